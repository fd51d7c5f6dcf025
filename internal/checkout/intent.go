// Package checkout implements the storefront's order pipeline: pricing,
// Stripe session creation, and reconciliation of completed payments into
// orders.
package checkout

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/velouria-skin/api/internal/services/order"
)

// IntentVersion is the current encoding version written to session metadata.
// Bump when the wire format changes; DecodeMetadata rejects unknown versions.
const IntentVersion = 1

const (
	// maxTitleLen caps item titles stored in metadata.
	maxTitleLen = 50
	// maxChunkLen keeps each metadata value under Stripe's 500-char limit
	// with headroom.
	maxChunkLen = 450
)

var (
	// ErrNoIntent is returned when session metadata carries no order intent.
	ErrNoIntent = errors.New("session metadata contains no order intent")
	// ErrIntentVersion is returned for an unsupported intent encoding version.
	ErrIntentVersion = errors.New("unsupported order intent version")
)

// OrderIntent is the full order, priced server-side, that rides through
// Stripe session metadata. The webhook handler rebuilds the order from this
// alone, never trusting the client or re-reading the cart.
type OrderIntent struct {
	CustomerID      uuid.UUID
	Email           string
	Items           []IntentItem
	CouponCode      string
	CouponType      string
	CouponValue     decimal.Decimal
	CouponDiscount  decimal.Decimal
	Subtotal        decimal.Decimal
	Discount        decimal.Decimal
	ShippingFee     decimal.Decimal
	Total           decimal.Decimal
	ShippingAddress order.Address
}

// IntentItem is one priced order line inside the intent.
type IntentItem struct {
	ProductID uuid.UUID
	Title     string
	UnitPrice decimal.Decimal
	ListPrice decimal.Decimal
	Quantity  int32
}

// wireItem is the compact single-letter JSON form an item takes in
// metadata: p = product id, t = title, u = unit price, q = quantity,
// s = strikethrough (list) price.
type wireItem struct {
	P string `json:"p"`
	T string `json:"t"`
	U string `json:"u"`
	Q int32  `json:"q"`
	S string `json:"s"`
}

// EncodeMetadata flattens the intent into Stripe metadata key-value pairs.
// Items are packed as compact JSON and split across items_0..items_n chunks
// so no single value exceeds Stripe's per-value limit. Titles are truncated
// to 50 characters. Money is encoded with two decimal places.
func EncodeMetadata(intent OrderIntent) (map[string]string, error) {
	wire := make([]wireItem, len(intent.Items))
	for i, item := range intent.Items {
		wire[i] = wireItem{
			P: item.ProductID.String(),
			T: truncate(item.Title, maxTitleLen),
			U: item.UnitPrice.StringFixed(2),
			Q: item.Quantity,
			S: item.ListPrice.StringFixed(2),
		}
	}
	itemsJSON, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encoding intent items: %w", err)
	}

	addrJSON, err := json.Marshal(intent.ShippingAddress)
	if err != nil {
		return nil, fmt.Errorf("encoding shipping address: %w", err)
	}

	md := map[string]string{
		"intent_version": strconv.Itoa(IntentVersion),
		"customer_id":    intent.CustomerID.String(),
		"email":          intent.Email,
		"subtotal":       intent.Subtotal.StringFixed(2),
		"discount":       intent.Discount.StringFixed(2),
		"shipping_fee":   intent.ShippingFee.StringFixed(2),
		"total":          intent.Total.StringFixed(2),
		"address":        string(addrJSON),
	}

	if intent.CouponCode != "" {
		md["coupon_code"] = intent.CouponCode
		md["coupon_type"] = intent.CouponType
		md["coupon_value"] = intent.CouponValue.StringFixed(2)
		md["coupon_discount"] = intent.CouponDiscount.StringFixed(2)
	}

	chunks := chunkString(string(itemsJSON), maxChunkLen)
	md["items_chunks"] = strconv.Itoa(len(chunks))
	for i, chunk := range chunks {
		md[fmt.Sprintf("items_%d", i)] = chunk
	}

	return md, nil
}

// DecodeMetadata is the strict inverse of EncodeMetadata. Metadata without
// an intent returns ErrNoIntent; any malformed field is an error so a
// damaged intent can never silently produce a wrong order.
func DecodeMetadata(md map[string]string) (OrderIntent, error) {
	versionStr, ok := md["intent_version"]
	if !ok {
		return OrderIntent{}, ErrNoIntent
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return OrderIntent{}, fmt.Errorf("parsing intent version %q: %w", versionStr, err)
	}
	if version != IntentVersion {
		return OrderIntent{}, fmt.Errorf("%w: %d", ErrIntentVersion, version)
	}

	var intent OrderIntent

	intent.CustomerID, err = uuid.Parse(md["customer_id"])
	if err != nil {
		return OrderIntent{}, fmt.Errorf("parsing customer id: %w", err)
	}
	intent.Email = md["email"]

	for _, field := range []struct {
		key  string
		dest *decimal.Decimal
	}{
		{"subtotal", &intent.Subtotal},
		{"discount", &intent.Discount},
		{"shipping_fee", &intent.ShippingFee},
		{"total", &intent.Total},
	} {
		*field.dest, err = decimal.NewFromString(md[field.key])
		if err != nil {
			return OrderIntent{}, fmt.Errorf("parsing %s %q: %w", field.key, md[field.key], err)
		}
	}

	if code, ok := md["coupon_code"]; ok {
		intent.CouponCode = code
		intent.CouponType = md["coupon_type"]
		intent.CouponValue, err = decimal.NewFromString(md["coupon_value"])
		if err != nil {
			return OrderIntent{}, fmt.Errorf("parsing coupon value: %w", err)
		}
		intent.CouponDiscount, err = decimal.NewFromString(md["coupon_discount"])
		if err != nil {
			return OrderIntent{}, fmt.Errorf("parsing coupon discount: %w", err)
		}
	}

	if err := json.Unmarshal([]byte(md["address"]), &intent.ShippingAddress); err != nil {
		return OrderIntent{}, fmt.Errorf("decoding shipping address: %w", err)
	}

	chunkCount, err := strconv.Atoi(md["items_chunks"])
	if err != nil {
		return OrderIntent{}, fmt.Errorf("parsing items_chunks %q: %w", md["items_chunks"], err)
	}
	if chunkCount < 1 {
		return OrderIntent{}, fmt.Errorf("invalid items_chunks count %d", chunkCount)
	}
	var itemsJSON []byte
	for i := 0; i < chunkCount; i++ {
		chunk, ok := md[fmt.Sprintf("items_%d", i)]
		if !ok {
			return OrderIntent{}, fmt.Errorf("missing metadata chunk items_%d", i)
		}
		itemsJSON = append(itemsJSON, chunk...)
	}

	var wire []wireItem
	if err := json.Unmarshal(itemsJSON, &wire); err != nil {
		return OrderIntent{}, fmt.Errorf("decoding intent items: %w", err)
	}
	if len(wire) == 0 {
		return OrderIntent{}, errors.New("order intent has no items")
	}

	intent.Items = make([]IntentItem, len(wire))
	for i, w := range wire {
		productID, err := uuid.Parse(w.P)
		if err != nil {
			return OrderIntent{}, fmt.Errorf("parsing item product id: %w", err)
		}
		unitPrice, err := decimal.NewFromString(w.U)
		if err != nil {
			return OrderIntent{}, fmt.Errorf("parsing item unit price: %w", err)
		}
		listPrice, err := decimal.NewFromString(w.S)
		if err != nil {
			return OrderIntent{}, fmt.Errorf("parsing item list price: %w", err)
		}
		if w.Q < 1 {
			return OrderIntent{}, fmt.Errorf("invalid item quantity %d", w.Q)
		}
		intent.Items[i] = IntentItem{
			ProductID: productID,
			Title:     w.T,
			UnitPrice: unitPrice,
			ListPrice: listPrice,
			Quantity:  w.Q,
		}
	}

	return intent, nil
}

// truncate cuts s to at most n runes, never splitting a multi-byte rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func chunkString(s string, size int) []string {
	if s == "" {
		return []string{""}
	}
	var chunks []string
	for len(s) > size {
		chunks = append(chunks, s[:size])
		s = s[size:]
	}
	return append(chunks, s)
}
