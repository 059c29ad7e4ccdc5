package services

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
)

// FilenameColumn heads the first CSV column.
const FilenameColumn = "ファイル名"

// multiValueJoiner joins repeated values of one class within a file. It is
// the two characters backslash and n so every row stays on one line.
const multiValueJoiner = `\n`

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// classLabels maps extraction model ids to human column labels.
var classLabels = map[string]map[string]string{
	"general": {
		"document_title": "文書タイトル",
		"issue_date":     "発行日",
		"company_name":   "会社名",
	},
	"invoice": {
		"invoice_number": "請求書番号",
		"issue_date":     "発行日",
		"due_date":       "支払期限",
		"company_name":   "請求元",
		"customer_name":  "請求先",
		"total_amount":   "合計金額",
		"tax_amount":     "消費税額",
	},
	"receipt": {
		"store_name":     "店舗名",
		"issue_date":     "発行日",
		"total_amount":   "合計金額",
		"payment_method": "支払方法",
	},
}

// ColumnLabel returns the display label for classID under modelID, falling
// back to the raw id.
func ColumnLabel(modelID, classID string) string {
	if labels, ok := classLabels[modelID]; ok {
		if label, ok := labels[classID]; ok {
			return label
		}
	}
	return classID
}

// CSVRow is the extracted classification of one source file.
type CSVRow struct {
	Filename string
	Fields   map[string]string
}

// ExtractFields collects class_name/text pairs from every "parts" array in
// the payloads, in order. Table classes are excluded.
func ExtractFields(payloads ...[]byte) (map[string]string, error) {
	values := make(map[string][]string)
	var order []string
	for _, raw := range payloads {
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode result JSON: %w", err)
		}
		walkParts(doc, func(class, text string) {
			if strings.Contains(strings.ToLower(class), "table") {
				return
			}
			if _, seen := values[class]; !seen {
				order = append(order, class)
			}
			values[class] = append(values[class], text)
		})
	}
	fields := make(map[string]string, len(order))
	for _, class := range order {
		fields[class] = strings.Join(values[class], multiValueJoiner)
	}
	return fields, nil
}

func walkParts(node any, visit func(class, text string)) {
	switch v := node.(type) {
	case map[string]any:
		if parts, ok := v["parts"].([]any); ok {
			for _, p := range parts {
				obj, ok := p.(map[string]any)
				if !ok {
					continue
				}
				class := stringField(obj, "class_name", "className")
				text, hasText := obj["text"].(string)
				if class != "" && hasText {
					visit(class, text)
				}
			}
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == "parts" {
				continue
			}
			walkParts(v[k], visit)
		}
	case []any:
		for _, item := range v {
			walkParts(item, visit)
		}
	}
}

func stringField(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// ExportCSV renders rows as UTF-8 CSV with a BOM. Columns are the sorted
// union of class ids, preceded by the file name column.
func ExportCSV(options config.FlowOptions, rows []CSVRow) ([]byte, error) {
	classSet := make(map[string]struct{})
	for _, r := range rows {
		for class := range r.Fields {
			classSet[class] = struct{}{}
		}
	}
	classes := make([]string, 0, len(classSet))
	for class := range classSet {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	var buf bytes.Buffer
	buf.Write(utf8BOM)
	w := csv.NewWriter(&buf)

	header := make([]string, 0, len(classes)+1)
	header = append(header, FilenameColumn)
	for _, class := range classes {
		header = append(header, ColumnLabel(options.Model, class))
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range rows {
		record := make([]string, 0, len(classes)+1)
		record = append(record, r.Filename)
		for _, class := range classes {
			record = append(record, r.Fields[class])
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
