/**
 * @description
 * Package and payer definitions consumed by the checkout core. Packages arrive from
 * the directory front-end as loosely typed JSON; NewPackage and NewUser are the
 * boundary where that input is validated and turned into typed records.
 */
package domain

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// PaymentType describes how a package is paid for.
type PaymentType string

const (
	PaymentTypeRecurring PaymentType = "recurring"
	PaymentTypeOneTime   PaymentType = "one-time"
	PaymentTypeManual    PaymentType = "manual"
)

// BillingCycle is the nominal recurrence of a recurring package.
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

// Package is a subscription package offered to businesses and influencers.
type Package struct {
	ID                   string              `json:"id"`
	Title                string              `json:"title"`
	Type                 string              `json:"type,omitempty"`
	Price                decimal.Decimal     `json:"price"`
	MonthlyPrice         decimal.NullDecimal `json:"monthly_price"`
	SetupFee             decimal.Decimal     `json:"setup_fee"`
	DurationMonths       int                 `json:"duration_months"`
	PaymentType          PaymentType         `json:"payment_type"`
	BillingCycle         BillingCycle        `json:"billing_cycle,omitempty"`
	AdvancePaymentMonths int                 `json:"advance_payment_months"`
}

// IsRecurring reports whether the package bills on a recurring schedule.
func (p Package) IsRecurring() bool {
	return p.PaymentType == PaymentTypeRecurring
}

// EffectiveMonthlyPrice is the monthly price, falling back to the base price when no
// monthly price was configured.
func (p Package) EffectiveMonthlyPrice() decimal.Decimal {
	if p.MonthlyPrice.Valid {
		return p.MonthlyPrice.Decimal
	}
	return p.Price
}

// Validate rejects packages whose pricing inputs would produce negative amounts.
func (p Package) Validate() error {
	switch {
	case p.Price.IsNegative():
		return NewInvalidPackageError("price must not be negative")
	case p.DurationMonths < 0:
		return NewInvalidPackageError("duration months must not be negative")
	case p.SetupFee.IsNegative():
		return NewInvalidPackageError("setup fee must not be negative")
	case p.MonthlyPrice.Valid && p.MonthlyPrice.Decimal.IsNegative():
		return NewInvalidPackageError("monthly price must not be negative")
	case p.AdvancePaymentMonths < 0:
		return NewInvalidPackageError("advance payment months must not be negative")
	}
	return nil
}

// LenientAmount holds the raw text of a monetary or count field. It accepts JSON
// numbers, strings ("₹1,999") and null.
type LenientAmount string

func (a *LenientAmount) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*a = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			*a = ""
			return nil
		}
		*a = LenientAmount(s)
		return nil
	}
	*a = LenientAmount(trimmed)
	return nil
}

// PackageInput is the untyped package definition received from callers.
type PackageInput struct {
	ID                   string        `json:"id"`
	Title                string        `json:"title"`
	Type                 string        `json:"type"`
	Price                LenientAmount `json:"price"`
	MonthlyPrice         LenientAmount `json:"monthlyPrice"`
	SetupFee             LenientAmount `json:"setupFee"`
	DurationMonths       LenientAmount `json:"durationMonths"`
	PaymentType          string        `json:"paymentType"`
	BillingCycle         string        `json:"billingCycle"`
	AdvancePaymentMonths LenientAmount `json:"advancePaymentMonths"`
}

// ParseAmount coerces free-form text into a decimal by keeping only digits, the
// decimal point and the minus sign. Anything that still fails to parse is zero.
func ParseAmount(raw string) decimal.Decimal {
	// Well-formed numbers, including exponent form, parse as is.
	if d, err := decimal.NewFromString(strings.TrimSpace(raw)); err == nil {
		return d
	}

	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(b.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseCount(raw LenientAmount) int {
	return int(ParseAmount(string(raw)).IntPart())
}

func normalizePaymentType(raw string) (PaymentType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "recurring", "subscription":
		return PaymentTypeRecurring, true
	case "one-time", "one_time", "onetime":
		return PaymentTypeOneTime, true
	}
	return "", false
}

// NewPackage validates the required fields of a package definition and converts it
// into a typed Package.
func NewPackage(in PackageInput) (Package, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return Package{}, NewInvalidPackageError("package id is required")
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Package{}, NewInvalidPackageError("package title is required")
	}
	paymentType, ok := normalizePaymentType(in.PaymentType)
	if !ok {
		return Package{}, NewInvalidPackageError("unsupported payment type " + strings.TrimSpace(in.PaymentType))
	}

	pkg := Package{
		ID:                   id,
		Title:                title,
		Type:                 strings.TrimSpace(in.Type),
		Price:                ParseAmount(string(in.Price)),
		SetupFee:             ParseAmount(string(in.SetupFee)),
		DurationMonths:       parseCount(in.DurationMonths),
		PaymentType:          paymentType,
		AdvancePaymentMonths: parseCount(in.AdvancePaymentMonths),
	}
	if strings.TrimSpace(string(in.MonthlyPrice)) != "" {
		pkg.MonthlyPrice = decimal.NewNullDecimal(ParseAmount(string(in.MonthlyPrice)))
	}

	if paymentType == PaymentTypeRecurring {
		switch strings.ToLower(strings.TrimSpace(in.BillingCycle)) {
		case "", "yearly", "annual", "annually":
			pkg.BillingCycle = BillingCycleYearly
		case "monthly":
			pkg.BillingCycle = BillingCycleMonthly
		default:
			return Package{}, NewInvalidPackageError("unsupported billing cycle " + strings.TrimSpace(in.BillingCycle))
		}
	}

	return pkg, nil
}

// User is the payer of a checkout.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// NewUser trims the payer fields and requires an id and an email address.
func NewUser(id, name, email, phone string) (User, error) {
	u := User{
		ID:    strings.TrimSpace(id),
		Name:  strings.TrimSpace(name),
		Email: strings.TrimSpace(email),
		Phone: strings.TrimSpace(phone),
	}
	if u.ID == "" {
		return User{}, ErrUserIDRequired
	}
	if u.Email == "" || !strings.Contains(u.Email, "@") {
		return User{}, ErrUserEmailRequired
	}
	return u, nil
}
