package validation

import (
	"net/mail"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion используется, когда регион в конфигурации не задан.
const DefaultPhoneRegion = "US"

// Formats FormatChecker на libphonenumber и RFC 5322.
type Formats struct {
	region string
}

var _ FormatChecker = (*Formats)(nil)

// NewFormats создаёт проверку форматов. region: ISO-код страны для номеров без "+".
func NewFormats(region string) *Formats {
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		region = DefaultPhoneRegion
	}
	return &Formats{region: region}
}

// ValidPhone проверяет, что номер разбирается и существует в плане нумерации.
func (f *Formats) ValidPhone(phone string) bool {
	num, err := phonenumbers.Parse(phone, f.region)
	if err != nil {
		return false
	}
	return phonenumbers.IsValidNumber(num)
}

// ValidEmail принимает только голый адрес, без отображаемого имени.
func (f *Formats) ValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email && strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@")+1:], ".")
}
