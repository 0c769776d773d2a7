package money

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Symbol is appended to formatted amounts.
const Symbol = "₫"

// Formatter renders amounts with locale-specific digit grouping.
type Formatter struct {
	p *message.Printer
}

// NewFormatter returns a Formatter for the given language.
func NewFormatter(tag language.Tag) *Formatter {
	return &Formatter{p: message.NewPrinter(tag)}
}

// Format renders a as "<grouped digits> ₫", separated by a no-break space.
func (f *Formatter) Format(a Amount) string {
	return f.p.Sprintf("%d", int64(a)) + "\u00a0" + Symbol
}

var defaultFormatter = NewFormatter(language.Vietnamese)

// Format renders a using Vietnamese grouping.
func Format(a Amount) string {
	return defaultFormatter.Format(a)
}

// DefaultFormatter returns the formatter used by Format.
func DefaultFormatter() *Formatter {
	return defaultFormatter
}
