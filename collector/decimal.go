package collector

import "github.com/shopspring/decimal"

var decimalTwo = decimal.NewFromInt(2)
