package events

// DomainEventTranslator centralizes the translation of domain-level publish
// options into event bus-specific ones so publishers never depend on a
// particular transport's option semantics.
type DomainEventTranslator struct{}

// NewDomainEventTranslator creates a new DomainEventTranslator.
func NewDomainEventTranslator() *DomainEventTranslator { return &DomainEventTranslator{} }

// ConvertDomainOptions transforms domain-level publishing options into event
// bus options, dropping zero-valued settings along the way.
func (t *DomainEventTranslator) ConvertDomainOptions(domainOpts []PublishOption) []PublishOption {
	dp := PublishParams{}
	for _, dOpt := range domainOpts {
		dOpt(&dp)
	}

	var eventOpts []PublishOption
	if dp.Key != "" {
		eventOpts = append(eventOpts, WithKey(dp.Key))
	}
	if len(dp.Headers) > 0 {
		eventOpts = append(eventOpts, WithHeaders(dp.Headers))
	}

	return eventOpts
}
