package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCastHash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    CastHash
		wantErr bool
	}{
		{
			name: "canonical hash unchanged",
			raw:  "0x1b69d92e91b17c9e07bbd84e2c6f943cdd8c9b2a",
			want: "0x1b69d92e91b17c9e07bbd84e2c6f943cdd8c9b2a",
		},
		{
			name: "uppercase normalized",
			raw:  "0x1B69D92E91B17C9E07BBD84E2C6F943CDD8C9B2A",
			want: "0x1b69d92e91b17c9e07bbd84e2c6f943cdd8c9b2a",
		},
		{
			name: "surrounding whitespace trimmed",
			raw:  "  0x1b69d92e91b17c9e07bbd84e2c6f943cdd8c9b2a\n",
			want: "0x1b69d92e91b17c9e07bbd84e2c6f943cdd8c9b2a",
		},
		{
			name:    "missing prefix",
			raw:     "1b69d92e91b17c9e07bbd84e2c6f943cdd8c9b2a",
			wantErr: true,
		},
		{
			name:    "too short",
			raw:     "0x1b69d92e",
			wantErr: true,
		},
		{
			name:    "non-hex characters",
			raw:     "0x1b69d92e91b17c9e07bbd84e2c6f943cdd8c9bzz",
			wantErr: true,
		},
		{
			name:    "empty",
			raw:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NewCastHash(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.IsType(t, InvalidCastHashError{}, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCastIsReply(t *testing.T) {
	t.Parallel()

	cast := Cast{Hash: "0x1b69d92e91b17c9e07bbd84e2c6f943cdd8c9b2a"}
	assert.False(t, cast.IsReply())

	cast.ParentHash = "0xaaaa000000000000000000000000000000000000"
	assert.True(t, cast.IsReply())
}

func TestCastImageURLs(t *testing.T) {
	t.Parallel()

	cast := Cast{
		Embeds: []Embed{
			{URL: "https://imagedelivery.net/run1.png"},
			{URL: ""},
			{URL: "https://imagedelivery.net/run2.png"},
		},
	}
	assert.Equal(t, []string{
		"https://imagedelivery.net/run1.png",
		"https://imagedelivery.net/run2.png",
	}, cast.ImageURLs())

	assert.Nil(t, Cast{}.ImageURLs())
}

func TestCastValidate(t *testing.T) {
	t.Parallel()

	valid := Cast{
		Hash:      "0x1b69d92e91b17c9e07bbd84e2c6f943cdd8c9b2a",
		FID:       16098,
		Timestamp: time.Now(),
	}
	require.NoError(t, valid.Validate())

	noFID := valid
	noFID.FID = 0
	assert.Error(t, noFID.Validate())

	badHash := valid
	badHash.Hash = "0xnothex"
	assert.Error(t, badHash.Validate())

	noTime := valid
	noTime.Timestamp = time.Time{}
	assert.Error(t, noTime.Validate())
}
