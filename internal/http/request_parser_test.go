package http

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"moneymanager/internal/core"
	"moneymanager/internal/store"
)

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		want      core.Period
		wantField string
	}{
		{name: "default all", query: "", want: core.Period{Kind: core.PeriodAll}},
		{name: "relative", query: "period=Week", want: core.Period{Kind: core.PeriodWeek}},
		{name: "month", query: "month=2026-03", want: core.MonthPeriod(2026, 3)},
		{name: "year", query: "year=2025", want: core.YearPeriod(2025)},
		{name: "month wins over period", query: "month=2026-01&period=today", want: core.MonthPeriod(2026, 1)},
		{
			name:  "custom range",
			query: "from=2026-03-01&to=2026-03-15",
			want:  core.Period{Kind: core.PeriodCustom, Start: core.NewDate(2026, 3, 1), End: core.NewDate(2026, 3, 15)},
		},
		{name: "open ended range", query: "from=2026-03-01", want: core.Period{Kind: core.PeriodCustom, Start: core.NewDate(2026, 3, 1)}},
		{name: "bad month", query: "month=2026-13", wantField: "month"},
		{name: "bad year", query: "year=twenty", wantField: "year"},
		{name: "bad date", query: "from=01/03/2026", wantField: "date"},
		{name: "unknown period", query: "period=decade", wantField: "period"},
		{name: "custom needs bounds", query: "period=custom", wantField: "period"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _ := url.ParseQuery(tt.query)
			got, err := ParsePeriod(q)
			if tt.wantField != "" {
				var verr *core.ValidationError
				if !errors.As(err, &verr) || verr.Field != tt.wantField {
					t.Fatalf("ParsePeriod(%q) error = %v, want field %q", tt.query, err, tt.wantField)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePeriod(%q) error = %v", tt.query, err)
			}
			if got.Kind != tt.want.Kind || !got.Start.Equal(tt.want.Start.Time) || !got.End.Equal(tt.want.End.Time) {
				t.Errorf("ParsePeriod(%q) = %+v, want %+v", tt.query, got, tt.want)
			}
		})
	}
}

func TestParseType(t *testing.T) {
	for in, want := range map[string]core.TransactionType{"": "", "expense": core.Expense, " Income ": core.Income} {
		got, err := ParseType(url.Values{"type": {in}})
		if err != nil || got != want {
			t.Errorf("ParseType(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseType(url.Values{"type": {"refund"}}); !errors.Is(err, core.ErrValidation) {
		t.Errorf("ParseType(refund) error = %v", err)
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want core.CatalogKind
	}{
		{"category", core.KindCategory},
		{"Categories", core.KindCategory},
		{"accounts", core.KindAccount},
		{"account", core.KindAccount},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseKind(%q) = %q, %v", tt.in, got, err)
		}
	}
	if _, err := ParseKind("tags"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ParseKind(tags) error = %v, want not found", err)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"valid", `{"name":"Smith"}`, nil},
		{"empty", ``, errBadRequest},
		{"unknown field", `{"nome":"Smith"}`, errBadRequest},
		{"trailing object", `{"name":"a"}{"name":"b"}`, errBadRequest},
		{"malformed", `{"name":`, errBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var p payload
			err := decodeJSON(httptest.NewRecorder(), r, &p)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("decodeJSON() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeJSON_ValidationErrorPassesThrough(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"type":"expense","amount":"5","date":"10-03-2026"}`))
	var in transactionInput
	err := decodeJSON(httptest.NewRecorder(), r, &in)
	var verr *core.ValidationError
	if !errors.As(err, &verr) || verr.Field != "date" {
		t.Fatalf("decodeJSON() error = %v, want date validation error", err)
	}
}

func TestTransactionInputSanitizes(t *testing.T) {
	in := transactionInput{Category: "  Food\x00 ", Account: "Cash\x07", Note: "line\nbreak"}
	tx := in.Transaction()
	if tx.Category != "Food" || tx.Account != "Cash" || tx.Note != "line\nbreak" {
		t.Errorf("Transaction() = %+v", tx)
	}
}

func TestDecodeWithAttachment(t *testing.T) {
	build := func(fields map[string]string, file bool) *http.Request {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for k, v := range fields {
			mw.WriteField(k, v)
		}
		if file {
			fw, _ := mw.CreateFormFile("file", "receipt.pdf")
			fw.Write([]byte("%PDF"))
		}
		mw.Close()
		r := httptest.NewRequest(http.MethodPost, "/", &buf)
		r.Header.Set("Content-Type", mw.FormDataContentType())
		return r
	}

	t.Run("with file", func(t *testing.T) {
		var in transactionInput
		r := build(map[string]string{"transaction": `{"type":"income","amount":"10","category":"Pay","account":"Bank","date":"2026-03-01"}`}, true)
		f, closer, err := decodeWithAttachment(httptest.NewRecorder(), r, &in)
		if err != nil {
			t.Fatalf("decodeWithAttachment() error = %v", err)
		}
		defer closer.Close()
		if in.Type != core.Income || in.Category != "Pay" {
			t.Errorf("decoded = %+v", in)
		}
		if f == nil || f.Name != "receipt.pdf" {
			t.Fatalf("file = %+v", f)
		}
		content, _ := io.ReadAll(f.Content)
		if string(content) != "%PDF" {
			t.Errorf("content = %q", content)
		}
	})

	t.Run("without file", func(t *testing.T) {
		var in transactionInput
		r := build(map[string]string{"transaction": `{"type":"expense"}`}, false)
		f, closer, err := decodeWithAttachment(httptest.NewRecorder(), r, &in)
		if err != nil || f != nil || closer != nil {
			t.Fatalf("decodeWithAttachment() = %v, %v, %v", f, closer, err)
		}
	})

	t.Run("missing transaction field", func(t *testing.T) {
		var in transactionInput
		_, _, err := decodeWithAttachment(httptest.NewRecorder(), build(nil, true), &in)
		if !errors.Is(err, errBadRequest) {
			t.Fatalf("error = %v, want bad request", err)
		}
	})

	t.Run("plain JSON", func(t *testing.T) {
		var in transactionInput
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"note":"x"}`))
		r.Header.Set("Content-Type", "application/json")
		f, _, err := decodeWithAttachment(httptest.NewRecorder(), r, &in)
		if err != nil || f != nil || in.Note != "x" {
			t.Fatalf("decodeWithAttachment() = %v, %v, %+v", f, err, in)
		}
	})
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  plain  ", "plain"},
		{"tab\tkept", "tab\tkept"},
		{"bell\x07gone", "bellgone"},
		{"\x1b[31mred", "[31mred"},
	}
	for _, tt := range tests {
		if got := sanitizeInput(tt.in); got != tt.want {
			t.Errorf("sanitizeInput(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
