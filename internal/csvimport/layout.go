package csvimport

import (
	"regexp"
	"strings"
	"time"
)

// Layout names reported in model.ParseOutcome.Format.
const (
	LayoutBankSplit      = "bank_split"
	LayoutCardStatement  = "card_statement"
	LayoutGeneric        = "generic"
	LayoutHeaderlessCard = "headerless_card"
	LayoutUnknown        = "unknown"
)

// headerScanDepth bounds how many leading rows may hold account preamble
// before the header row.
const headerScanDepth = 10

// columns maps semantic fields to cell indexes; -1 means absent.
type columns struct {
	date        int
	description int
	merchant    int
	amount      int
	withdrawal  int
	deposit     int
}

func (c columns) minWidth() int {
	width := 0
	for _, i := range []int{c.date, c.description, c.merchant, c.amount, c.withdrawal, c.deposit} {
		if i+1 > width {
			width = i + 1
		}
	}
	return width
}

type layout struct {
	name   string
	detect func(header []string) (columns, bool)
}

var (
	dateHeaders       = []string{"日付", "取引日", "date", "transaction date"}
	bankDescHeaders   = []string{"摘要", "お取引内容", "取引内容"}
	withdrawalHeaders = []string{"出金", "お引出し", "支払金額", "出金金額", "お引出し金額"}
	depositHeaders    = []string{"入金", "お預入れ", "預り金額", "入金金額", "お預入れ金額"}

	cardDateHeaders   = []string{"ご利用日", "利用日"}
	cardStoreHeaders  = []string{"ご利用店名", "利用店名", "ご利用先", "ご利用店名・商品名"}
	cardAmountHeaders = []string{"ご利用金額", "利用金額"}

	genericDescHeaders     = []string{"description", "摘要", "内容", "memo", "取引内容"}
	genericAmountHeaders   = []string{"amount", "金額"}
	genericMerchantHeaders = []string{"merchant", "payee", "店名", "支払先"}

	// Units in headers such as "出金金額(円)".
	headerUnit = regexp.MustCompile(`\(.*?\)`)
)

// layouts in detection order; the first match wins.
var layouts = []layout{
	{name: LayoutBankSplit, detect: func(h []string) (columns, bool) {
		c := columns{
			date:        find(h, dateHeaders),
			description: find(h, bankDescHeaders),
			merchant:    -1,
			amount:      -1,
			withdrawal:  find(h, withdrawalHeaders),
			deposit:     find(h, depositHeaders),
		}
		return c, c.date >= 0 && c.description >= 0 && c.withdrawal >= 0 && c.deposit >= 0
	}},
	{name: LayoutCardStatement, detect: func(h []string) (columns, bool) {
		store := find(h, cardStoreHeaders)
		c := columns{
			date:        find(h, cardDateHeaders),
			description: store,
			merchant:    store,
			amount:      find(h, cardAmountHeaders),
			withdrawal:  -1,
			deposit:     -1,
		}
		return c, c.date >= 0 && store >= 0 && c.amount >= 0
	}},
	{name: LayoutGeneric, detect: func(h []string) (columns, bool) {
		c := columns{
			date:        find(h, dateHeaders),
			description: find(h, genericDescHeaders),
			merchant:    find(h, genericMerchantHeaders),
			amount:      find(h, genericAmountHeaders),
			withdrawal:  -1,
			deposit:     -1,
		}
		return c, c.date >= 0 && c.description >= 0 && c.amount >= 0
	}},
}

// headerlessColumns is the fixed layout of card exports without a header:
// date, store, amount, then issuer-specific extras.
var headerlessColumns = columns{date: 0, description: 1, merchant: 1, amount: 2, withdrawal: -1, deposit: -1}

// detectHeaderless reports whether row looks like the first data row of a
// headerless card export.
func detectHeaderless(row []string, ref time.Time) bool {
	if len(row) < 3 {
		return false
	}
	desc := normalize(row[1])
	return looksLikeDate(row[0], ref) &&
		desc != "" && !looksLikeAmount(desc) &&
		looksLikeAmount(row[2])
}

func normalizeHeader(cell string) string {
	h := normalize(cell)
	h = headerUnit.ReplaceAllString(h, "")
	return strings.ToLower(strings.TrimSpace(h))
}

func find(header []string, names []string) int {
	for i, h := range header {
		for _, n := range names {
			if h == n {
				return i
			}
		}
	}
	return -1
}
