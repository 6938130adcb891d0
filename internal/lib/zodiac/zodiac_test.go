package zodiac

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSign(t *testing.T) {
	tests := []struct {
		name string
		date time.Time
		want string
	}{
		{"aries start", time.Date(1990, 3, 21, 0, 0, 0, 0, time.UTC), "Овен"},
		{"aries end", time.Date(1990, 4, 19, 0, 0, 0, 0, time.UTC), "Овен"},
		{"taurus", time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC), "Телец"},
		{"virgo", time.Date(1990, 9, 8, 0, 0, 0, 0, time.UTC), "Дева"},
		{"capricorn december", time.Date(1990, 12, 25, 0, 0, 0, 0, time.UTC), "Козерог"},
		{"capricorn january", time.Date(1990, 1, 10, 0, 0, 0, 0, time.UTC), "Козерог"},
		{"aquarius", time.Date(1990, 2, 1, 0, 0, 0, 0, time.UTC), "Водолей"},
		{"pisces", time.Date(1990, 3, 1, 0, 0, 0, 0, time.UTC), "Рыбы"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sign(tt.date))
		})
	}
}
