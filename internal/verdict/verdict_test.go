package verdict

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicewatch/internal"
)

func TestDecodeCategories(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		kind    Kind
		defects string
		errKind error
	}{
		{name: "valid invoice", raw: `{"check":{"invoice":true,"invalidCheck":false},"parse":{"invoiceNumber":"42"}}`, kind: KindDone},
		{name: "invoice with defects", raw: `{"check":{"invoice":true,"invalidCheck":true,"invalidPoints":"missing tax ID"},"parse":{}}`, kind: KindInvalid, defects: "missing tax ID"},
		{name: "not an invoice", raw: `{"check":{"invoice":false}}`, kind: KindUnrelated},
		{name: "not an invoice wins over defects", raw: `{"check":{"invoice":false,"invalidCheck":true}}`, kind: KindUnrelated},
		{name: "empty object", raw: `{}`, kind: KindUnknown, errKind: internal.ErrMalformedVerdict},
		{name: "invoice without defect flag", raw: `{"check":{"invoice":true}}`, kind: KindUnknown, errKind: internal.ErrMalformedVerdict},
		{name: "wrong types", raw: `{"check":{"invoice":"yes"}}`, kind: KindUnknown, errKind: internal.ErrMalformedVerdict},
		{name: "array", raw: `[1,2]`, kind: KindUnknown, errKind: internal.ErrMalformedVerdict},
		{name: "not json", raw: `Sorry, I cannot help`, kind: KindDecodeError, errKind: internal.ErrClassificationFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Decode([]byte(tc.raw))
			assert.Equal(t, tc.kind, out.Kind)
			if tc.defects != "" {
				require.NotNil(t, out.Defects)
				assert.Equal(t, tc.defects, *out.Defects)
			}
			if tc.errKind != nil {
				require.Error(t, out.Err)
				assert.True(t, errors.Is(out.Err, tc.errKind))
			} else {
				assert.NoError(t, out.Err)
			}
		})
	}
}

func TestApplyRows(t *testing.T) {
	base := internal.LogRow{
		Date:      time.Date(2026, 2, 8, 10, 0, 0, 0, time.UTC),
		ThreadID:  "t1",
		MessageID: "m1",
		Sender:    "a@example.com",
	}

	t.Run("done", func(t *testing.T) {
		row := Decode([]byte(`{"check": {"invoice": true, "invalidCheck": false}}`)).Apply(base)
		assert.Equal(t, internal.CategoryDone, row.Category)
		require.NotNil(t, row.HasInvoice)
		require.NotNil(t, row.IsValidInvoice)
		assert.True(t, *row.HasInvoice)
		assert.True(t, *row.IsValidInvoice)
		assert.Nil(t, row.ModificationPoints)
		require.NotNil(t, row.ParsedInvoice)
		assert.Equal(t, `{"check":{"invoice":true,"invalidCheck":false}}`, *row.ParsedInvoice)
		assert.Nil(t, row.Notes)
		assert.Equal(t, "m1", row.MessageID)
	})

	t.Run("invalid", func(t *testing.T) {
		row := Decode([]byte(`{"check":{"invoice":true,"invalidCheck":true,"invalidPoints":"missing tax ID"}}`)).Apply(base)
		assert.Equal(t, internal.CategoryInvalid, row.Category)
		require.NotNil(t, row.IsValidInvoice)
		assert.False(t, *row.IsValidInvoice)
		require.NotNil(t, row.ModificationPoints)
		assert.Equal(t, "missing tax ID", *row.ModificationPoints)
		assert.NotNil(t, row.ParsedInvoice)
	})

	t.Run("unrelated", func(t *testing.T) {
		row := Decode([]byte(`{"check":{"invoice":false}}`)).Apply(base)
		assert.Equal(t, internal.CategoryUnrelated, row.Category)
		require.NotNil(t, row.HasInvoice)
		assert.False(t, *row.HasInvoice)
		assert.Nil(t, row.IsValidInvoice)
		assert.Nil(t, row.ModificationPoints)
		assert.Nil(t, row.ParsedInvoice)
		assert.Nil(t, row.Notes)
	})

	t.Run("unknown", func(t *testing.T) {
		row := Decode([]byte(`{}`)).Apply(base)
		assert.Equal(t, internal.CategoryUnknown, row.Category)
		assert.Nil(t, row.HasInvoice)
		assert.Nil(t, row.IsValidInvoice)
		assert.Nil(t, row.ModificationPoints)
		assert.Nil(t, row.ParsedInvoice)
		require.NotNil(t, row.Notes)
		assert.Equal(t, `{}`, *row.Notes)
	})
}
