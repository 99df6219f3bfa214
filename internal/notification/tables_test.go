package notification

import (
	"testing"
	"time"
)

func TestCategoryOf(t *testing.T) {
	cases := []struct {
		typ  string
		want Category
	}{
		{TypeOrderRejected, CategoryPublish},
		{"order_something_new", CategoryPublish},
		{TypeReplyPost, CategoryCollaboration},
		{" Collab_Invite ", CategoryCollaboration},
		{TypeTransactionRejected, CategoryFinance},
		{"payout_delayed", CategoryFinance},
		{TypeSecurityAlert, CategorySystem},
		{"totally_unknown", CategorySystem},
		{"", CategorySystem},
	}
	for _, tc := range cases {
		if got := CategoryOf(tc.typ); got != tc.want {
			t.Fatalf("CategoryOf(%q) = %q, want %q", tc.typ, got, tc.want)
		}
	}
}

func TestPrefKeyFailOpen(t *testing.T) {
	if k, ok := PrefKey(TypeOrderApproved); !ok || k != PrefPublishApproved {
		t.Fatalf("PrefKey(order_approved) = %q,%v", k, ok)
	}
	for _, typ := range []string{TypeTransactionRejected, TypePayoutFailed, TypeSecurityAlert, "brand_new_type"} {
		if k, ok := PrefKey(typ); ok {
			t.Fatalf("PrefKey(%q) = %q, expected no mapping", typ, k)
		}
	}
}

func TestPrefKeysCoverTable(t *testing.T) {
	known := map[string]bool{}
	for _, k := range PrefKeys {
		known[k] = true
	}
	for typ, ti := range typeTable {
		if ti.prefKey != "" && !known[ti.prefKey] {
			t.Fatalf("type %q maps to unlisted pref key %q", typ, ti.prefKey)
		}
		if !ti.category.Valid() {
			t.Fatalf("type %q has invalid category %q", typ, ti.category)
		}
	}
}

func TestValidate(t *testing.T) {
	ok := Notification{ID: "a", Category: CategoryFinance, CreatedAt: time.Now()}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := ok
	bad.ID = " "
	if err := bad.Validate(); err != ErrMissingID {
		t.Fatalf("err = %v, want ErrMissingID", err)
	}
	bad = ok
	bad.Category = "promo"
	if err := bad.Validate(); err != ErrUnknownCategory {
		t.Fatalf("err = %v, want ErrUnknownCategory", err)
	}
	bad = ok
	bad.CreatedAt = time.Time{}
	if err := bad.Validate(); err != ErrMissingTime {
		t.Fatalf("err = %v, want ErrMissingTime", err)
	}
}
