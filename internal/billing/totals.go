package billing

import "github.com/shopspring/decimal"

var oneHundred = decimal.NewFromInt(100)

// ComputeTotals derives subtotal, VAT and total from invoice lines. Line nets
// are summed exactly; VAT is grouped by rate and each group rounded to two
// decimals half-up, so total == subtotal + vat_amount holds to the cent.
func ComputeTotals(lines []InvoiceLine) (subtotal, vat, total decimal.Decimal) {
	nets := make(map[string]decimal.Decimal)
	rates := make(map[string]decimal.Decimal)

	net := decimal.Zero
	for _, l := range lines {
		lineNet := l.Quantity.Mul(l.UnitPrice)
		net = net.Add(lineNet)
		key := l.VATRate.String()
		nets[key] = nets[key].Add(lineNet)
		rates[key] = l.VATRate
	}

	subtotal = net.Round(2)
	vat = decimal.Zero
	for key, groupNet := range nets {
		vat = vat.Add(groupNet.Mul(rates[key]).Div(oneHundred).Round(2))
	}
	total = subtotal.Add(vat)
	return subtotal, vat, total
}
