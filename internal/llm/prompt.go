package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/catalog"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// maxOCRRunes caps the receipt text sent to the model.
const maxOCRRunes = 300

// payload is the user message sent for one transaction.
type payload struct {
	Description  string `json:"description"`
	MerchantName string `json:"merchantName"`
	Amount       string `json:"amount"`
	OCRText      string `json:"ocrText"`
}

// BuildPayload encodes in as the JSON user message.
func BuildPayload(in model.ClassificationInput) ([]byte, error) {
	p := payload{
		Description:  in.Description,
		MerchantName: in.MerchantName,
		Amount:       in.Amount.String(),
		OCRText:      truncateRunes(in.OCRText, maxOCRRunes),
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// BuildSystemPrompt renders the fixed instruction for cat.
func BuildSystemPrompt(cat *catalog.Catalog) string {
	business, personal := cat.Partition()

	var sb strings.Builder
	sb.WriteString("あなたは日本の個人事業主向けの経理アシスタントです。")
	sb.WriteString("取引情報から最も適切な勘定科目を1つ選んでください。\n\n")

	sb.WriteString("## 事業用の勘定科目\n")
	writeCategories(&sb, business)
	sb.WriteString("\n## 個人用(家計)の科目\n")
	writeCategories(&sb, personal)

	sb.WriteString("\n## 特別ルール\n")
	sb.WriteString("- カフェでの飲み物は打ち合わせとみなし「会議費」とする\n")
	sb.WriteString("- 駐車場・パーキングの料金は「旅費交通費」とする\n")
	sb.WriteString("- 作業中にコンビニで購入したコーヒーやエナジードリンクは「会議費」とする\n")

	sb.WriteString("\n## 回答形式\n")
	sb.WriteString("次の形式のJSONオブジェクトのみを返してください。説明文やマークダウンは不要です。\n")
	sb.WriteString(`{"categoryId":"cat-xxx","categoryName":"勘定科目名","confidence":0.0,"isBusiness":true,"reasoning":"判断理由"}`)
	sb.WriteString("\nconfidence は 0 から 1 の数値です。\n")

	return sb.String()
}

func writeCategories(sb *strings.Builder, defs []model.CategoryDefinition) {
	for _, d := range defs {
		fmt.Fprintf(sb, "- %s (%s)", d.Name, d.ID)
		if len(d.Keywords) > 0 {
			fmt.Fprintf(sb, ": %s", strings.Join(d.Keywords, "、"))
		}
		sb.WriteString("\n")
	}
}
