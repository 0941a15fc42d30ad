package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseService(t *testing.T) {
	tests := []struct {
		in     string
		want   Service
		wantOK bool
	}{
		{"gmail", ServiceGmail, true},
		{"Gmail", ServiceGmail, true},
		{" calendar ", ServiceCalendar, true},
		{"google-generic", ServiceGoogle, true},
		{"google", ServiceGoogle, true},
		{"", "", false},
		{"dropbox", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseService(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_DisplayName(t *testing.T) {
	assert.Equal(t, "Gmail", ServiceGmail.DisplayName())
	assert.Equal(t, "Google Calendar", ServiceCalendar.DisplayName())
	assert.Equal(t, "Google", ServiceGoogle.DisplayName())
	assert.Equal(t, "other", Service("other").DisplayName())
}
