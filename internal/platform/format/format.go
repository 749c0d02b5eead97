// Package format renders prices and rates for display using CLDR locale data.
package format

import (
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Formatter renders amounts in one currency for one locale. The zero value is not usable.
type Formatter struct {
	unit    currency.Unit
	printer *message.Printer
	tag     language.Tag
}

// NewFormatter resolves code (ISO 4217) and locale (BCP 47). Unparseable input falls back to
// INR and English respectively.
func NewFormatter(code, locale string) Formatter {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		unit = currency.INR
	}
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		tag = language.English
	}
	return Formatter{unit: unit, printer: message.NewPrinter(tag), tag: tag}
}

// Currency returns the ISO code of the formatter's currency.
func (f Formatter) Currency() string {
	return f.unit.String()
}

// Amount renders value with the ISO code and locale grouping, e.g. "INR 55,000.00".
func (f Formatter) Amount(value float64) string {
	return f.printer.Sprint(currency.ISO(f.unit.Amount(value)))
}

// RatePerGram renders a per-gram commodity rate.
func (f Formatter) RatePerGram(value float64) string {
	return f.Amount(value) + "/g"
}

// Date renders t in a short locale-friendly form.
func (f Formatter) Date(t time.Time) string {
	base, _ := f.tag.Base()
	if base.String() == "en" {
		return t.Format("Jan 2, 2006 15:04")
	}
	return t.Format("2006-01-02 15:04")
}
