package portal

import (
	"context"
	"testing"

	"github.com/raterudder/aigueshorta/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestContractExtractor(t *testing.T) {
	e := NewContractExtractor()
	ctx := context.Background()

	tests := []struct {
		name string
		html string
		want []types.Contract
	}{
		{
			name: "Structural Selector",
			html: `<div class="contract-item"><span>Nº Contrato: 00123456</span><span>Dirección Suministro: C/ Sant Vicent 3, 46001 València</span><span>Población: València</span></div>`,
			want: []types.Contract{{Number: "00123456", Address: "C/ Sant Vicent 3, 46001 València"}},
		},
		{
			name: "Deduplicated",
			html: `<div class="contract-list">
  <div class="contract-card">Número de Contrato: 111111 <div class="direccion">Av. del Port 10</div></div>
  <div class="contract-card">Número de Contrato: 222222 <div class="direccion">Plaza Mayor 2</div></div>
  <div class="contract-card">Número de Contrato: 222222</div>
</div>`,
			want: []types.Contract{
				{Number: "111111", Address: "Av. del Port 10"},
				{Number: "222222", Address: "Plaza Mayor 2"},
			},
		},
		{
			name: "Label Fallback",
			html: `<table><tr><td>Nº de Póliza</td><td>987654321</td><td>Ubicación: Camí Reial 5</td></tr></table>`,
			want: []types.Contract{{Number: "987654321", Address: "Camí Reial 5"}},
		},
		{
			name: "Plausible Number Skips Postal Code",
			html: `<li class="contract">46001 València <b>7654321</b></li>`,
			want: []types.Contract{{Number: "7654321"}},
		},
		{
			name: "Attribute Number",
			html: `<div class="contrato-resumen" data-contract-id="55554444">Sin datos</div>`,
			want: []types.Contract{{Number: "55554444"}},
		},
		{
			name: "Address By Class",
			html: `<article class="contrato"><p>Contrato activo 3332221</p><p class="supply-address">Carrer Nou 7</p></article>`,
			want: []types.Contract{{Number: "3332221", Address: "Carrer Nou 7"}},
		},
		{
			name: "Nothing",
			html: `<html><body><p>No hay contratos</p></body></html>`,
			want: nil,
		},
		{
			name: "Container Without Number",
			html: `<div class="contract-card">Dirección: Calle Sin Número</div>`,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Extract(ctx, mustDoc(t, tt.html))
			assert.Equal(t, tt.want, got)
		})
	}
}
