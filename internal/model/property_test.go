package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProperty_HasCoordinates(t *testing.T) {
	lat, lon := -23.55, -46.63
	zero := 0.0

	tests := []struct {
		name string
		lat  *float64
		lon  *float64
		want bool
	}{
		{"both set", &lat, &lon, true},
		{"both nil", nil, nil, false},
		{"lat only", &lat, nil, false},
		{"zero pair treated as absent", &zero, &zero, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Property{Latitude: tt.lat, Longitude: tt.lon}
			assert.Equal(t, tt.want, p.HasCoordinates())
		})
	}
}

func TestClassifyType(t *testing.T) {
	assert.Equal(t, "Apartamento", ClassifyType("Apartamento"))
	assert.Equal(t, "Casa", ClassifyType("casa "))
	assert.Equal(t, "Terreno", ClassifyType("Terreno urbano"))
	assert.Equal(t, "Comercial", ClassifyType("Sala comercial"))
	assert.Equal(t, "Rural", ClassifyType("Chácara"))
	assert.Equal(t, "Outros", ClassifyType("Vaga de garagem"))
	assert.Equal(t, "", ClassifyType("  "))
}

func TestIsRegion(t *testing.T) {
	assert.True(t, IsRegion("SP"))
	assert.False(t, IsRegion("XX"))
	assert.Len(t, Regions, 27)
}
