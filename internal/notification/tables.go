package notification

import "strings"

// Notification types emitted by the platform. Sources may emit others; they
// are accepted and fall back to prefix rules (CategoryOf) and fail-open
// preferences (PrefKey).
const (
	TypeOrderPending           = "order_pending"
	TypeOrderApproved          = "order_approved"
	TypeOrderPublished         = "order_published"
	TypeOrderRejected          = "order_rejected"
	TypeOrderRevisionRequested = "order_revision_requested"
	TypeOrderCancelled         = "order_cancelled"

	TypeCollabInvite   = "collab_invite"
	TypeCollabAccepted = "collab_accepted"
	TypeCollabDeclined = "collab_declined"
	TypeCollabMessage  = "collab_message"
	TypeCollabFile     = "collab_file_shared"
	TypeReplyThread    = "reply_thread"
	TypeReplyPost      = "reply_post"
	TypeLikeThread     = "like_thread"
	TypeLikePost       = "like_post"

	TypePaymentReceived     = "payment_received"
	TypePayoutSent          = "payout_sent"
	TypePayoutFailed        = "payout_failed"
	TypeTransactionRejected = "transaction_rejected"
	TypeInvoiceDue          = "invoice_due"

	TypeSystemAnnouncement = "system_announcement"
	TypeSystemMaintenance  = "system_maintenance"
	TypeSecurityAlert      = "security_alert"
)

// Preference keys. A key covers a family of types.
const (
	PrefPublishPending  = "publish_pending"
	PrefPublishApproved = "publish_approved"
	PrefPublishRejected = "publish_rejected"

	PrefCollabInvites   = "collab_invites"
	PrefCollabMessages  = "collab_messages"
	PrefCollabReactions = "collab_reactions"

	PrefFinancePayments = "finance_payments"
	PrefFinanceInvoices = "finance_invoices"

	PrefSystemAnnouncements = "system_announcements"
	PrefSystemMaintenance   = "system_maintenance"
)

// PrefKeys lists every preference key in display order.
var PrefKeys = []string{
	PrefPublishPending, PrefPublishApproved, PrefPublishRejected,
	PrefCollabInvites, PrefCollabMessages, PrefCollabReactions,
	PrefFinancePayments, PrefFinanceInvoices,
	PrefSystemAnnouncements, PrefSystemMaintenance,
}

type typeInfo struct {
	category Category
	prefKey  string // empty: never muted
}

// Failure and security types have no preference key on purpose: they stay
// visible whatever the user configured.
var typeTable = map[string]typeInfo{
	TypeOrderPending:           {CategoryPublish, PrefPublishPending},
	TypeOrderApproved:          {CategoryPublish, PrefPublishApproved},
	TypeOrderPublished:         {CategoryPublish, PrefPublishApproved},
	TypeOrderRejected:          {CategoryPublish, PrefPublishRejected},
	TypeOrderRevisionRequested: {CategoryPublish, PrefPublishRejected},
	TypeOrderCancelled:         {CategoryPublish, PrefPublishRejected},

	TypeCollabInvite:   {CategoryCollaboration, PrefCollabInvites},
	TypeCollabAccepted: {CategoryCollaboration, PrefCollabInvites},
	TypeCollabDeclined: {CategoryCollaboration, PrefCollabInvites},
	TypeCollabMessage:  {CategoryCollaboration, PrefCollabMessages},
	TypeCollabFile:     {CategoryCollaboration, PrefCollabMessages},
	TypeReplyThread:    {CategoryCollaboration, PrefCollabMessages},
	TypeReplyPost:      {CategoryCollaboration, PrefCollabMessages},
	TypeLikeThread:     {CategoryCollaboration, PrefCollabReactions},
	TypeLikePost:       {CategoryCollaboration, PrefCollabReactions},

	TypePaymentReceived:     {CategoryFinance, PrefFinancePayments},
	TypePayoutSent:          {CategoryFinance, PrefFinancePayments},
	TypePayoutFailed:        {CategoryFinance, ""},
	TypeTransactionRejected: {CategoryFinance, ""},
	TypeInvoiceDue:          {CategoryFinance, PrefFinanceInvoices},

	TypeSystemAnnouncement: {CategorySystem, PrefSystemAnnouncements},
	TypeSystemMaintenance:  {CategorySystem, PrefSystemMaintenance},
	TypeSecurityAlert:      {CategorySystem, ""},
}

var categoryPrefixes = []struct {
	prefix   string
	category Category
}{
	{"order_", CategoryPublish},
	{"publish_", CategoryPublish},
	{"collab_", CategoryCollaboration},
	{"reply_", CategoryCollaboration},
	{"like_", CategoryCollaboration},
	{"payment_", CategoryFinance},
	{"payout_", CategoryFinance},
	{"invoice_", CategoryFinance},
	{"transaction_", CategoryFinance},
}

// CategoryOf infers the category of a type. Unknown types are system
// notifications.
func CategoryOf(typ string) Category {
	typ = normalizeType(typ)
	if ti, ok := typeTable[typ]; ok {
		return ti.category
	}
	for _, p := range categoryPrefixes {
		if strings.HasPrefix(typ, p.prefix) {
			return p.category
		}
	}
	return CategorySystem
}

// PrefKey returns the preference key that controls typ. ok=false means the
// type is not covered by any preference and must always be shown.
func PrefKey(typ string) (key string, ok bool) {
	ti, found := typeTable[normalizeType(typ)]
	if !found || ti.prefKey == "" {
		return "", false
	}
	return ti.prefKey, true
}

func normalizeType(typ string) string {
	return strings.ToLower(strings.TrimSpace(typ))
}
