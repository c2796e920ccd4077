package template

import (
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/LeventeLantos/cart-recovery/internal/model"
)

const (
	VarName     = "nome"
	VarValue    = "valor"
	VarProduct  = "produto"
	VarProducts = "produtos"
	VarCartLink = "link_carrinho"

	DefaultCustomerName = "Cliente"
)

var printer = message.NewPrinter(language.BrazilianPortuguese)

// FormatBRL formats v as Brazilian reais, e.g. "R$ 1.234,50".
func FormatBRL(v decimal.Decimal) string {
	return "R$ " + printer.Sprint(number.Decimal(v.Round(2).InexactFloat64(), number.Scale(2)))
}

// JoinNames joins item names the way a sentence lists them:
// "A", "A e B", "A, B e C".
func JoinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " e " + names[len(names)-1]
}

// CartLink appends the escaped external cart id to base.
func CartLink(base, externalID string) string {
	if externalID == "" {
		return base
	}
	return base + url.QueryEscape(externalID)
}

// CartVariables builds the placeholder values for a cart.
func CartVariables(c model.Cart, linkBase string) map[string]string {
	name := strings.TrimSpace(c.CustomerName)
	if name == "" {
		name = DefaultCustomerName
	}

	products := JoinNames(c.ItemNames())

	return map[string]string{
		VarName:     name,
		VarValue:    FormatBRL(c.Value),
		VarProduct:  products,
		VarProducts: products,
		VarCartLink: CartLink(linkBase, c.ExternalID),
	}
}
