package collector

import (
	"fmt"
	"strconv"
	"strings"

	"SeriesHarvester/internal/model"
)

// ProviderDateLayout is the DD/MM/YYYY layout the SGS API speaks.
const ProviderDateLayout = "02/01/2006"

// Provider describes how to address the SGS time-series API.
type Provider struct {
	BaseURL    string
	DateField  string
	ValueField string
}

// NewSGSProvider returns the Banco Central SGS layout rooted at baseURL.
func NewSGSProvider(baseURL string) Provider {
	return Provider{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		DateField:  "data",
		ValueField: "valor",
	}
}

// Endpoint returns the data URL of series code.
func (p Provider) Endpoint(code string) string {
	return fmt.Sprintf("%s/bcdata.sgs.%s/dados", p.BaseURL, code)
}

// Params returns the query of one window.
func (p Provider) Params(w model.Window) map[string]string {
	return map[string]string{
		"formato":     "json",
		"dataInicial": w.Start.Format(ProviderDateLayout),
		"dataFinal":   w.End.Format(ProviderDateLayout),
	}
}

// Record extracts the date and value of one decoded object.
func (p Provider) Record(obj map[string]any) model.RawRecord {
	return model.RawRecord{
		Date:  stringify(obj[p.DateField]),
		Value: stringify(obj[p.ValueField]),
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
