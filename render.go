package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// 輸出格式
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
)

// ValidFormat 是否為支援的輸出格式
func ValidFormat(format string) bool {
	switch format {
	case FormatTable, FormatJSON, FormatJSONL:
		return true
	default:
		return false
	}
}

// Renderer 將讀取結果輸出為表格或 JSON
type Renderer struct {
	w      io.Writer
	format string
}

// NewRenderer 建立 Renderer
func NewRenderer(w io.Writer, format string) (*Renderer, error) {
	if !ValidFormat(format) {
		return nil, fmt.Errorf("不支援的輸出格式: %q", format)
	}
	return &Renderer{w: w, format: format}, nil
}

// Render 輸出一次讀取結果
func (r *Renderer) Render(batch *BatchResult) error {
	switch r.format {
	case FormatTable:
		if err := r.renderTable(batch); err != nil {
			return err
		}
		_, err := io.WriteString(r.w, "\n\n")
		return err
	case FormatJSON:
		data, err := batch.MarshalJSON()
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "    "); err != nil {
			return fmt.Errorf("格式化 JSON 失敗: %w", err)
		}
		buf.WriteString("\n\n\n")
		_, err = buf.WriteTo(r.w)
		return err
	default:
		data, err := batch.MarshalJSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(r.w, "%s\n", data)
		return err
	}
}

func (r *Renderer) renderTable(batch *BatchResult) error {
	var b strings.Builder

	b.WriteString(pad("Register", 25) + pad("Address", 10) + pad("Value", 10) + pad("Decimal", 10) + pad("Binary", 21) + "\n")
	b.WriteString(strings.Repeat("-", 25+10+10+10+21) + "\n")

	for _, res := range batch.Results {
		b.WriteString(tableRow(res))
		b.WriteByte('\n')
	}

	_, err := io.WriteString(r.w, b.String())
	return err
}

func tableRow(res FieldResult) string {
	f := res.Field
	prefix := pad(f.Name, 25) + pad(fmt.Sprintf("0x%04x", f.Address), 10)

	if res.Err != nil {
		return prefix + "ERROR: " + res.Err.Error()
	}

	v := res.Value
	if v.Kind == ValueText {
		return prefix + fmt.Sprintf("%q", v.Text)
	}

	if f.Unit != "" {
		return strings.TrimRight(prefix+pad(v.String()+" "+f.Unit, 10), " ")
	}

	// 無單位的數值同時顯示十六進位、十進位與二進位
	if v.Kind == ValueInteger && v.Int != nil && v.Int.IsUint64() {
		u := v.Int.Uint64()
		row := prefix + pad(fmt.Sprintf("0x%04x", u), 10) + pad(v.String(), 10) + pad(fmt.Sprintf("0b%016b", u), 21)
		return strings.TrimRight(row, " ")
	}
	return strings.TrimRight(prefix+pad(v.String(), 10)+pad(v.String(), 10), " ")
}

func pad(s string, width int) string {
	n := len([]rune(s))
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}

// RenderProbe 輸出探測結果
func RenderProbe(w io.Writer, results []ProbeResult) error {
	for _, r := range results {
		if _, err := fmt.Fprintf(w, "checking device address: %#x... %s\n", r.Address, probeSummary(r)); err != nil {
			return err
		}
	}
	return nil
}

func probeSummary(r ProbeResult) string {
	switch r.Outcome {
	case OutcomePresent:
		return fmt.Sprintf("model: %s, serial: %s", r.Model, r.Serial)
	case OutcomeUnrecognized:
		return "bad response, skipping"
	default:
		return "unknown"
	}
}

// RenderSchema 輸出暫存器表
func RenderSchema(w io.Writer, schema *Schema) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tWORDS\tTYPE\tSCALING\tUNIT")
	for _, f := range schema.Fields() {
		fmt.Fprintf(tw, "%s\t0x%04x\t%d\t%s\t%s\t%s\n", f.Name, f.Address, f.Words, f.Signedness, f.Scaling, f.Unit)
	}
	return tw.Flush()
}
