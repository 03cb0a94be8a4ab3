package provider

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSymbols_NormalizesAndCaps(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"EUR", "USD", "CHF", "GBP", "DKK"}, ParseSymbols(" eur, usd, ,chf,gbp, dkk ", 0))
	require.Equal(t, []string{"A", "B", "C"}, ParseSymbols("a,b,c,d,e,f,g,h,i,j,k", 3))
	require.Equal(t, []string{"EUR", "USD"}, ParseSymbols("eur,EUR,usd", 0))
	require.Empty(t, ParseSymbols(" , ,", 0))
}

func TestParseSymbols_DefaultCap(t *testing.T) {
	t.Parallel()

	got := ParseSymbols("a,b,c,d,e,f,g,h,i,j,k,l", 0)
	require.Len(t, got, MaxSymbols)
}

func TestKeyOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		base    string
		symbols []string
		want    string
	}{
		{name: "sorted", base: "pln", symbols: []string{"USD", "EUR"}, want: "PLN__EUR,USD"},
		{name: "case", base: " Pln ", symbols: []string{"usd", "eUr"}, want: "PLN__EUR,USD"},
		{name: "duplicates", base: "PLN", symbols: []string{"EUR", "eur", "USD"}, want: "PLN__EUR,USD"},
		{name: "single", base: "usd", symbols: []string{"chf"}, want: "USD__CHF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, KeyOf(tt.base, tt.symbols))
		})
	}
}

func TestKeyOf_OrderAndCaseInvariant(t *testing.T) {
	t.Parallel()

	symbols := []string{"EUR", "usd", "Chf", "GBP", "dkk"}
	want := KeyOf("PLN", symbols)
	perms := [][]string{
		{"dkk", "GBP", "Chf", "usd", "EUR"},
		{"usd", "EUR", "dkk", "chf", "gbp"},
		{"GBP", "DKK", "EUR", "USD", "CHF"},
	}
	for _, p := range perms {
		require.Equal(t, want, KeyOf("pln", p))
	}
}

func TestUpstreamError(t *testing.T) {
	t.Parallel()

	statusErr := &UpstreamError{Provider: "Frankfurter", Status: 503}
	require.Equal(t, "Frankfurter HTTP 503", statusErr.Error())

	cause := errors.New("dial tcp: refused")
	wrapped := fmt.Errorf("fetch: %w", &UpstreamError{Provider: "Frankfurter", Err: cause})
	var ue *UpstreamError
	require.True(t, errors.As(wrapped, &ue))
	require.ErrorIs(t, wrapped, cause)
}

func TestSymbolSet(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"CHF", "EUR", "USD"}, SymbolSet([]string{"usd", " eur", "", "CHF", "EUR"}))
	require.Empty(t, SymbolSet(nil))
}
