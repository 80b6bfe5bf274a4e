/**
 * @description
 * Pricing rules for subscription packages. All functions here are pure: the same
 * package always yields the same amounts.
 */
package app

import (
	"github.com/directory/payment-service/internal/domain"
	"github.com/shopspring/decimal"
)

var monthsPerYear = decimal.NewFromInt(12)

// ComputeAmounts derives the initial payment, the recurring amount and the first
// term total for a package.
func ComputeAmounts(pkg domain.Package) (domain.Amounts, error) {
	if err := pkg.Validate(); err != nil {
		return domain.Amounts{}, err
	}

	if !pkg.IsRecurring() {
		initial := pkg.Price.Add(pkg.SetupFee)
		return domain.Amounts{
			InitialPayment:  initial,
			RecurringAmount: decimal.Zero,
			FirstTermTotal:  initial,
		}, nil
	}

	if pkg.BillingCycle == domain.BillingCycleMonthly {
		monthly := pkg.EffectiveMonthlyPrice()
		return domain.Amounts{
			InitialPayment:  pkg.SetupFee.Add(monthly),
			RecurringAmount: monthly,
			FirstTermTotal:  pkg.SetupFee.Add(monthly.Mul(monthsPerYear)),
		}, nil
	}

	// Yearly, including recurring packages with no cycle set. Advance months only
	// matter here.
	initial := pkg.SetupFee
	if pkg.AdvancePaymentMonths > 0 {
		initial = initial.Add(pkg.Price)
	}
	return domain.Amounts{
		InitialPayment:  initial,
		RecurringAmount: pkg.Price,
		FirstTermTotal:  pkg.SetupFee.Add(pkg.Price),
	}, nil
}

// FormatAmount renders an amount the way the gateway expects it.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
