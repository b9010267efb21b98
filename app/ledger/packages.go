package ledger

import (
	"fmt"
	"math"
	"sort"
)

const CreditsPerUSD = 10

type CreditPackage struct {
	Name    string `json:"name"`
	USD     int64  `json:"usd"`
	Credits int64  `json:"credits"`
	Bonus   int64  `json:"bonus"`
}

func (p CreditPackage) Total() int64 {
	return p.Credits + p.Bonus
}

var packages = map[string]CreditPackage{
	"small":  {Name: "small", USD: 10, Credits: 100, Bonus: 0},
	"medium": {Name: "medium", USD: 50, Credits: 500, Bonus: 50},
	"large":  {Name: "large", USD: 100, Credits: 1000, Bonus: 200},
}

// Packages lists the credit packages in price order.
func Packages() []CreditPackage {
	list := make([]CreditPackage, 0, len(packages))
	for _, p := range packages {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].USD < list[j].USD })
	return list
}

func PackageByName(name string) (CreditPackage, error) {
	p, ok := packages[name]
	if !ok {
		return CreditPackage{}, fmt.Errorf("unknown credit package '%s'", name)
	}
	return p, nil
}

// CreditsForUSD converts a purchase amount into credits: 10 per USD, plus
// 10% from $50 and 20% from $100. Fractions are floored.
func CreditsForUSD(usd float64) (int64, error) {
	if usd <= 0 || math.IsNaN(usd) || math.IsInf(usd, 0) {
		return 0, fmt.Errorf("%w: usd amount must be positive", ErrInvalidAmount)
	}

	credits := usd * CreditsPerUSD
	switch {
	case usd >= 100:
		credits += usd * 2
	case usd >= 50:
		credits += usd
	}
	return int64(math.Floor(credits)), nil
}
