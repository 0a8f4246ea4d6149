package feed

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// Column names as they appear in the feed header.
const (
	ColRegion       = "UF"
	ColCity         = "Cidade"
	ColNeighborhood = "Bairro"
	ColAddress      = "Endereço"
	ColPrice        = "Preço"
	ColAppraisal    = "Valor de avaliação"
	ColDiscount     = "Desconto"
	ColDescription  = "Descrição"
	ColModality     = "Modalidade de venda"
	ColLink         = "Link de acesso"
	ColPostalCode   = "CEP"
)

// ParseMoney converts a feed monetary cell ("R$ 1.234,56") into a
// fixed-point decimal. The source uses period as thousands separator and
// comma as decimal separator; both must be rewritten before parsing or the
// magnitude is wrong. Empty input is zero.
func ParseMoney(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	s = strings.ReplaceAll(s, "R$", "")
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	s = strings.TrimSpace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "feed: parse money %q", s)
	}
	return d, nil
}

var (
	totalAreaRe   = regexp.MustCompile(`(\d+[.,]\d+)\s*de\s*área\s*total`)
	privateAreaRe = regexp.MustCompile(`(\d+[.,]\d+)\s*de\s*área\s*privativa`)
	lotAreaRe     = regexp.MustCompile(`(\d+[.,]\d+)\s*de\s*área\s*do\s*terreno`)
	bedroomsRe    = regexp.MustCompile(`(\d+)\s*qto\(s\)`)
)

// Areas holds the measurements extracted from a free-text description.
// Each field is independently optional: nil means the description did not
// mention that measurement, which is distinct from a zero value.
type Areas struct {
	Total    *decimal.Decimal
	Private  *decimal.Decimal
	Lot      *decimal.Decimal
	Bedrooms *int
}

// ExtractAreas scans the description for the three area phrases and the
// room-count phrase. Missing phrases leave the corresponding field nil.
func ExtractAreas(description string) Areas {
	var a Areas
	a.Total = matchDecimal(totalAreaRe, description)
	a.Private = matchDecimal(privateAreaRe, description)
	a.Lot = matchDecimal(lotAreaRe, description)

	if m := bedroomsRe.FindStringSubmatch(description); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			a.Bedrooms = &n
		}
	}
	return a
}

func matchDecimal(re *regexp.Regexp, s string) *decimal.Decimal {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", "."))
	if err != nil {
		return nil
	}
	return &d
}

// ExtractSubtype returns the property subtype: the description text before
// the first comma. Empty when the description has no leading token.
func ExtractSubtype(description string) string {
	head, _, _ := strings.Cut(description, ",")
	return strings.TrimSpace(head)
}
