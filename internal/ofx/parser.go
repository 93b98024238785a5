// Package ofx parses OFX/QFX statement downloads into transaction records.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Format is the layout name reported for OFX imports.
const Format = "ofx"

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// Opening tags missing their closing bracket in SGML-style files.
	tagFixRegex = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)

	merchantPrefixes = []string{
		"POS PURCHASE ",
		"PURCHASE AUTHORIZED ON ",
		"DEBIT CARD PURCHASE ",
		"ACH DEBIT ",
		"CHECK CARD ",
		"VISA PURCHASE ",
		"MC PURCHASE ",
		"DEBIT PURCHASE ",
	}
	genericNames = map[string]bool{
		"DEBIT":           true,
		"CREDIT":          true,
		"PURCHASE":        true,
		"PAYMENT":         true,
		"POS TRANSACTION": true,
		"CARD PURCHASE":   true,
	}
)

// Parser implements OFX/QFX file parsing.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a new OFX parser.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// preprocess fixes common formatting issues in OFX files.
func preprocess(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

// ParseFile parses an OFX/QFX document. An unreadable document is an error;
// statements that convert to zero records are not.
func (p *Parser) ParseFile(ctx context.Context, reader io.Reader) (model.ParseOutcome, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return model.ParseOutcome{}, fmt.Errorf("failed to read OFX file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return model.ParseOutcome{}, err
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(preprocess(string(content))))
	if err != nil {
		return model.ParseOutcome{}, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	out := model.ParseOutcome{Format: Format}
	var bankStmts, ccStmts int

	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		bankStmts++
		for _, t := range stmt.BankTranList.Transactions {
			p.append(&out, t, string(stmt.BankAcctFrom.AcctID))
		}
	}

	for _, msg := range resp.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		ccStmts++
		for _, t := range stmt.BankTranList.Transactions {
			p.append(&out, t, string(stmt.CCAcctFrom.AcctID))
		}
	}

	p.logger.Info("Parsed OFX file",
		"total_transactions", len(out.Transactions),
		"bank_statements", bankStmts,
		"cc_statements", ccStmts,
		"warnings", len(out.Errors))

	return out, nil
}

func (p *Parser) append(out *model.ParseOutcome, t ofxgo.Transaction, accountID string) {
	txn, err := convert(t, accountID)
	if err != nil {
		out.Errors = append(out.Errors, fmt.Sprintf("transaction %s: %v", t.FiTID, err))
		return
	}
	out.Transactions = append(out.Transactions, txn)
}

// convert maps an OFX transaction onto the import record. OFX reports debits
// as negative amounts; records carry outflows as positive.
func convert(t ofxgo.Transaction, accountID string) (model.Transaction, error) {
	amount, err := decimal.NewFromString(t.TrnAmt.Rat.FloatString(2))
	if err != nil {
		return model.Transaction{}, fmt.Errorf("invalid amount: %w", err)
	}

	description := strings.TrimSpace(string(t.Name))
	if description == "" {
		description = strings.TrimSpace(string(t.Memo))
	}
	if description == "" {
		return model.Transaction{}, fmt.Errorf("missing description")
	}

	posted := t.DtPosted.Time
	if posted.IsZero() {
		return model.Transaction{}, fmt.Errorf("missing posted date")
	}

	original := map[string]string{
		"fitid":   string(t.FiTID),
		"trntype": fmt.Sprint(t.TrnType),
		"name":    string(t.Name),
		"memo":    string(t.Memo),
		"account": accountID,
		"amount":  amount.String(),
	}
	if t.CheckNum != "" {
		original["checknum"] = string(t.CheckNum)
	}

	return model.Transaction{
		ID:           string(t.FiTID),
		Date:         time.Date(posted.Year(), posted.Month(), posted.Day(), 0, 0, 0, 0, time.UTC),
		Amount:       amount.Neg(),
		Description:  description,
		MerchantName: extractMerchantName(t),
		Source:       Format,
		OriginalData: original,
	}, nil
}

// extractMerchantName tries to get a clean merchant name from OFX data.
func extractMerchantName(t ofxgo.Transaction) string {
	if t.Payee != nil && t.Payee.Name != "" {
		return string(t.Payee.Name)
	}

	name := string(t.Name)
	if t.Memo != "" && genericNames[strings.ToUpper(name)] {
		name = string(t.Memo)
	}
	name = strings.TrimSpace(name)

	for _, prefix := range merchantPrefixes {
		if strings.HasPrefix(strings.ToUpper(name), prefix) {
			name = name[len(prefix):]
			break
		}
	}

	// "MM/DD " date stamps some banks prepend.
	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}

	return name
}
