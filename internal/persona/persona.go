// Package persona holds the signup identity the harness types into the
// funnel. The values are supplied by an external generator; the core only
// reads them, matching form fields to values by field-name heuristics.
package persona

import (
	"fmt"
	"strings"
)

type Address struct {
	Street string `yaml:"street" json:"street"`
	Unit   string `yaml:"unit,omitempty" json:"unit,omitempty"`
	City   string `yaml:"city" json:"city"`
	State  string `yaml:"state" json:"state"`
	Zip    string `yaml:"zip" json:"zip"`
}

// BusinessDetails describes the company being formed.
type BusinessDetails struct {
	Name     string `yaml:"name" json:"name"`
	Purpose  string `yaml:"purpose,omitempty" json:"purpose,omitempty"`
	Industry string `yaml:"industry,omitempty" json:"industry,omitempty"`
}

// Card carries test payment details. Fills against card fields are only ever
// issued inside the payment iframe's own document.
type Card struct {
	Number string `yaml:"number" json:"number"`
	Expiry string `yaml:"expiry" json:"expiry"` // MM/YY
	CVC    string `yaml:"cvc" json:"cvc"`
	Zip    string `yaml:"zip,omitempty" json:"zip,omitempty"`
}

type Persona struct {
	FirstName string          `yaml:"first_name" json:"first_name"`
	LastName  string          `yaml:"last_name" json:"last_name"`
	Email     string          `yaml:"email" json:"email"`
	Phone     string          `yaml:"phone" json:"phone"`
	Address   Address         `yaml:"address" json:"address"`
	Business  BusinessDetails `yaml:"business" json:"business"`
	Card      Card            `yaml:"card" json:"card"`
}

func (p Persona) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Summary is the compact context handed to the AI decision provider.
func (p Persona) Summary() string {
	return fmt.Sprintf("name=%s email=%s phone=%s business=%q address=%s, %s, %s %s",
		p.FullName(), p.Email, p.Phone, p.Business.Name,
		p.Address.Street, p.Address.City, p.Address.State, p.Address.Zip)
}

type rule struct {
	keywords []string
	value    func(Persona) string
}

// Rules are ordered most-specific first so "business-name" resolves to the
// company and not the contact name, and "card number" beats "phone number".
// "pan" is deliberately absent from the card keywords: folded hints like
// "companyname" contain it as a substring.
var rules = []rule{
	{[]string{"cardnumber", "ccnumber", "creditcard"}, func(p Persona) string { return p.Card.Number }},
	{[]string{"cvc", "cvv", "securitycode", "csc"}, func(p Persona) string { return p.Card.CVC }},
	{[]string{"expiry", "expiration", "expdate", "ccexp"}, func(p Persona) string { return p.Card.Expiry }},
	{[]string{"businessname", "companyname", "entityname", "llcname", "orgname"}, func(p Persona) string { return p.Business.Name }},
	{[]string{"businesspurpose", "purpose", "activity"}, func(p Persona) string { return p.Business.Purpose }},
	{[]string{"industry", "category"}, func(p Persona) string { return p.Business.Industry }},
	{[]string{"firstname", "givenname", "fname"}, func(p Persona) string { return p.FirstName }},
	{[]string{"lastname", "surname", "familyname", "lname"}, func(p Persona) string { return p.LastName }},
	{[]string{"fullname", "yourname", "contactname", "ownername"}, func(p Persona) string { return p.FullName() }},
	{[]string{"email"}, func(p Persona) string { return p.Email }},
	{[]string{"phone", "mobile", "tel"}, func(p Persona) string { return p.Phone }},
	// Unit before street: "address2" would otherwise hit the "addr" catch-all.
	{[]string{"unit", "suite", "apt", "address2"}, func(p Persona) string { return p.Address.Unit }},
	{[]string{"street", "address1", "addressline", "addr"}, func(p Persona) string { return p.Address.Street }},
	{[]string{"city", "town"}, func(p Persona) string { return p.Address.City }},
	{[]string{"state", "province", "region"}, func(p Persona) string { return p.Address.State }},
	{[]string{"zip", "postal"}, func(p Persona) string { return p.Address.Zip }},
	// Bare "name" and "address" last: only match when nothing narrower did.
	{[]string{"name"}, func(p Persona) string { return p.FullName() }},
	{[]string{"address"}, func(p Persona) string { return p.Address.Street }},
}

// ValueFor maps a field-name hint (name attribute, id, label or placeholder
// text) to a persona value. The hint is folded to lowercase alphanumerics
// before matching so "First Name", "first_name" and "firstName" are the same.
func (p Persona) ValueFor(hint string) (string, bool) {
	folded := fold(hint)
	if folded == "" {
		return "", false
	}
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(folded, kw) {
				v := r.value(p)
				if v == "" {
					return "", false
				}
				return v, true
			}
		}
	}
	return "", false
}

func fold(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
