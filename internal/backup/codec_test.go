package backup

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/shopspring/decimal"
)

func TestDecode_SingleValidRecord(t *testing.T) {
	data := `[{"id":"1","amount":10,"date":"2024-01-01T00:00:00Z","description":"x","category":"y","type":"income"}]`

	txs, err := Decode([]byte(data))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := domain.Transaction{
		ID:          "1",
		Date:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Description: "x",
		Amount:      decimal.NewFromInt(10),
		Category:    "y",
		Type:        domain.TypeIncome,
	}
	if len(txs) != 1 || !txs[0].Equal(want) {
		t.Errorf("Decode = %+v, want [%+v]", txs, want)
	}
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantIndex int
		wantField string
	}{
		{"missing amount and date", `[{"id":"1"}]`, 0, "amount"},
		{"missing id", `[{"amount":1,"date":"2024-01-01T00:00:00Z","type":"income"}]`, 0, "id"},
		{"empty id", `[{"id":"","amount":1,"date":"2024-01-01T00:00:00Z","type":"income"}]`, 0, "id"},
		{"null date", `[{"id":"1","amount":1,"date":null,"type":"income"}]`, 0, "date"},
		{"second record bad", `[{"id":"1","amount":1,"date":"2024-01-01T00:00:00Z","type":"income"},{"id":"2","amount":1}]`, 1, "date"},
		{"negative amount", `[{"id":"1","amount":-3,"date":"2024-01-01T00:00:00Z","type":"expense"}]`, 0, "amount"},
		{"unknown type", `[{"id":"1","amount":3,"date":"2024-01-01T00:00:00Z","type":"refund"}]`, 0, "type"},
		{"duplicate id", `[{"id":"1","amount":3,"date":"2024-01-01T00:00:00Z","type":"income"},{"id":"1","amount":4,"date":"2024-01-02T00:00:00Z","type":"income"}]`, 1, "id"},
		{"bad date", `[{"id":"1","amount":3,"date":"yesterday","type":"income"}]`, 0, ""},
		{"element not object", `[42]`, 0, ""},
		{"not an array", `{"id":"1"}`, -1, ""},
		{"empty file", ``, -1, ""},
		{"broken json", `[{"id":`, -1, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs, err := Decode([]byte(tt.data))
			if txs != nil {
				t.Errorf("rejected import returned records: %+v", txs)
			}
			var ve *ImportValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error = %v, want *ImportValidationError", err)
			}
			if ve.Index != tt.wantIndex || ve.Field != tt.wantField {
				t.Errorf("ImportValidationError = %+v, want index %d field %q", ve, tt.wantIndex, tt.wantField)
			}
		})
	}
}

func TestDecode_EmptyArray(t *testing.T) {
	txs, err := Decode([]byte("[]"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(txs) != 0 {
		t.Errorf("Decode([]) = %+v", txs)
	}
}

func TestEncodeDecode(t *testing.T) {
	txs := []domain.Transaction{
		{ID: "a", Date: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), Description: "Salary", Amount: decimal.RequireFromString("2500.00"), Category: "Work", Type: domain.TypeIncome, OwnerID: "alice"},
		{ID: "b", Date: time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC), Description: "Bread", Amount: decimal.RequireFromString("3.2"), Category: "Food", Type: domain.TypeExpense, OwnerID: "alice"},
	}

	data, err := Encode(txs)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.HasPrefix(string(data), "[\n  {") {
		t.Errorf("backup should be pretty-printed, got %q", string(data[:10]))
	}
	if strings.Contains(string(data), "alice") {
		t.Error("backup must not carry owner ids")
	}

	back, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for i := range txs {
		want := txs[i]
		want.OwnerID = ""
		if !back[i].Equal(want) {
			t.Errorf("record %d = %+v, want %+v", i, back[i], want)
		}
	}
}
