package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateChannel(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		wantErr bool
	}{
		{"single_segment", "system", false},
		{"dotted", "perception.user_input", false},
		{"deeply_dotted", "a.b.c.d", false},
		{"empty", "", true},
		{"empty_segment", "perception..input", true},
		{"trailing_dot", "perception.", true},
		{"leading_dot", ".perception", true},
		{"wildcard_segment", "perception.*", true},
		{"wildcard_only", "*", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChannel(tt.channel)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidChannel)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{"literal", "perception.user_input", false},
		{"wildcard_tail", "perception.*", false},
		{"wildcard_head", "*.errors", false},
		{"wildcard_middle", "a.*.c", false},
		{"wildcard_only", "*", false},
		{"empty", "", true},
		{"empty_segment", "a..b", true},
		{"recursive_wildcard", "perception.**", true},
		{"embedded_wildcard", "percep*.input", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePattern(tt.pattern)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPattern)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMatchChannel(t *testing.T) {
	tests := []struct {
		pattern string
		channel string
		want    bool
	}{
		{"perception.user_input", "perception.user_input", true},
		{"perception.user_input", "perception.other", false},
		{"perception.*", "perception.user_input", true},
		{"perception.*", "perception.a.b", false},
		{"*.errors", "memory.errors", true},
		{"*.errors", "memory.store.errors", false},
		{"a.*.c", "a.b.c", true},
		{"a.*.c", "a.b.d", false},
		{"*", "system", true},
		{"*", "system.booted", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"_vs_"+tt.channel, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchChannel(tt.pattern, tt.channel))
		})
	}
}

func TestNewEventIDIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := newEventID()
		assert.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate event ID %s", id)
		seen[id] = true
	}
}
