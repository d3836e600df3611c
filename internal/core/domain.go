package core

import (
	"slices"
	"strings"
	"time"
)

const (
	Expense  TransactionType = "expense"
	Income   TransactionType = "income"
	Transfer TransactionType = "transfer"
)

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteDeclined InviteStatus = "declined"
)

const (
	KindCategory CatalogKind = "category"
	KindAccount  CatalogKind = "account"
)

// GoogleProvider is the provider id of principals linked to a Google account.
const GoogleProvider = "google.com"

type (
	TransactionType string
	InviteStatus    string
	CatalogKind     string

	// Principal is the authenticated identity. It is never persisted here.
	Principal struct {
		ID          string   `json:"id"`
		Email       string   `json:"email"`
		DisplayName string   `json:"displayName"`
		PhotoURL    string   `json:"photoURL,omitempty"`
		Providers   []string `json:"providers,omitempty"`
	}

	Member struct {
		ID       string    `json:"id"`
		Email    string    `json:"email"`
		Name     string    `json:"name"`
		PhotoURL string    `json:"photoURL,omitempty"`
		JoinedAt time.Time `json:"joinedAt"`
	}

	// Family is a sharing group. The owner is never listed in MemberIDs.
	Family struct {
		ID         string    `json:"id"`
		Name       string    `json:"name"`
		OwnerID    string    `json:"ownerId"`
		OwnerEmail string    `json:"ownerEmail"`
		OwnerName  string    `json:"ownerName"`
		MemberIDs  []string  `json:"memberIds"`
		Members    []Member  `json:"members"`
		CreatedAt  time.Time `json:"createdAt"`
	}

	// FamilyInvite is either code based (InviteCode + ExpiresAt) or
	// addressed (InviteeEmail).
	FamilyInvite struct {
		ID           string       `json:"id"`
		FamilyID     string       `json:"familyId"`
		FamilyName   string       `json:"familyName"`
		InviterID    string       `json:"inviterId"`
		InviterName  string       `json:"inviterName"`
		InviterEmail string       `json:"inviterEmail"`
		InviteeEmail string       `json:"inviteeEmail,omitempty"`
		InviteCode   string       `json:"inviteCode,omitempty"`
		Status       InviteStatus `json:"status"`
		CreatedAt    time.Time    `json:"createdAt"`
		ExpiresAt    time.Time    `json:"expiresAt,omitzero"`
		AcceptedBy   string       `json:"acceptedBy,omitempty"`
		AcceptedAt   time.Time    `json:"acceptedAt,omitzero"`
	}

	// CatalogEntry is a category or account shared by every principal listed
	// in UserIDs. UserIDs is a subscription list, not ownership.
	CatalogEntry struct {
		ID        string          `json:"id"`
		Kind      CatalogKind     `json:"kind"`
		Name      string          `json:"name"`
		Type      TransactionType `json:"type,omitempty"`
		UserIDs   []string        `json:"userIds"`
		CreatedBy string          `json:"createdBy"`
		CreatedAt time.Time       `json:"createdAt"`
	}

	Transaction struct {
		ID                string          `json:"id"`
		Type              TransactionType `json:"type"`
		Amount            Money           `json:"amount"`
		Category          string          `json:"category"`
		Account           string          `json:"account"`
		ToAccount         string          `json:"toAccount,omitempty"`
		Note              string          `json:"note,omitempty"`
		Date              Date            `json:"date"`
		UserID            string          `json:"userId"`
		UserName          string          `json:"userName"`
		CreatedAt         time.Time       `json:"createdAt"`
		AttachmentURL     string          `json:"attachmentUrl,omitempty"`
		AttachmentName    string          `json:"attachmentName,omitempty"`
		AttachmentOwnerID string          `json:"attachmentOwnerId,omitempty"`
	}

	// TransactionPatch carries the fields supplied to an update. Nil fields
	// are left untouched.
	TransactionPatch struct {
		Type      *TransactionType `json:"type,omitempty"`
		Amount    *Money           `json:"amount,omitempty"`
		Category  *string          `json:"category,omitempty"`
		Account   *string          `json:"account,omitempty"`
		ToAccount *string          `json:"toAccount,omitempty"`
		Note      *string          `json:"note,omitempty"`
		Date      *Date            `json:"date,omitempty"`
	}
)

// IsGoogleUser reports whether the principal has a linked Google provider.
func (p Principal) IsGoogleUser() bool {
	return slices.Contains(p.Providers, GoogleProvider)
}

// Name returns the display name, falling back to the email.
func (p Principal) Name() string {
	if strings.TrimSpace(p.DisplayName) != "" {
		return p.DisplayName
	}
	return p.Email
}

// NormalizeEmail lowercases and trims an email for comparisons and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (t TransactionType) Valid() bool {
	switch t {
	case Expense, Income, Transfer:
		return true
	}
	return false
}

func (k CatalogKind) Valid() bool {
	return k == KindCategory || k == KindAccount
}

// IsOwner reports whether id owns the family.
func (f Family) IsOwner(id string) bool {
	return f.OwnerID == id
}

// HasMember reports whether id is listed as a (non-owner) member.
func (f Family) HasMember(id string) bool {
	return slices.Contains(f.MemberIDs, id)
}

// MemberByEmail finds a member by case-insensitive email.
func (f Family) MemberByEmail(email string) (Member, bool) {
	email = NormalizeEmail(email)
	for _, m := range f.Members {
		if NormalizeEmail(m.Email) == email {
			return m, true
		}
	}
	return Member{}, false
}

// VisibilitySet returns the principal ids whose transactions p may observe:
// {p} without a family, otherwise the owner plus every member.
func VisibilitySet(p Principal, f *Family) []string {
	if f == nil {
		return []string{p.ID}
	}
	ids := make([]string, 0, len(f.MemberIDs)+1)
	ids = append(ids, f.OwnerID)
	for _, id := range f.MemberIDs {
		if id != f.OwnerID && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Expired reports whether a code invite can no longer be redeemed at now.
// Addressed invites carry no expiry.
func (i FamilyInvite) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// Redeemable reports whether the invite is pending and not expired.
func (i FamilyInvite) Redeemable(now time.Time) bool {
	return i.Status == InvitePending && !i.Expired(now)
}

// Key is the logical identity used for catalog deduplication.
func (e CatalogEntry) Key() string {
	return CatalogKey(e.Kind, e.Name, e.Type)
}

// CatalogKey builds the dedup key: kind, lowercased name and, for
// categories, the type (defaulting to expense).
func CatalogKey(kind CatalogKind, name string, typ TransactionType) string {
	key := string(kind) + "|" + strings.ToLower(strings.TrimSpace(name))
	if kind == KindCategory {
		key += "|" + string(CategoryType(typ))
	}
	return key
}

// CategoryType applies the legacy default: categories without a type are
// expense categories.
func CategoryType(t TransactionType) TransactionType {
	if t == "" {
		return Expense
	}
	return t
}

// Normalize fills defaults for records read from storage.
func (e CatalogEntry) Normalize() CatalogEntry {
	if e.Kind == KindCategory {
		e.Type = CategoryType(e.Type)
	} else {
		e.Type = ""
	}
	return e
}

// HasUser reports whether id is subscribed to the entry.
func (e CatalogEntry) HasUser(id string) bool {
	return slices.Contains(e.UserIDs, id)
}

// Apply merges supplied patch fields into t.
func (p TransactionPatch) Apply(t Transaction) Transaction {
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Account != nil {
		t.Account = *p.Account
	}
	if p.ToAccount != nil {
		t.ToAccount = *p.ToAccount
	}
	if p.Note != nil {
		t.Note = *p.Note
	}
	if p.Date != nil {
		t.Date = *p.Date
	}
	return t
}

// Normalize trims text fields and drops ToAccount on non-transfers.
func (t Transaction) Normalize() Transaction {
	t.Category = strings.TrimSpace(t.Category)
	t.Account = strings.TrimSpace(t.Account)
	t.ToAccount = strings.TrimSpace(t.ToAccount)
	t.Note = strings.TrimSpace(t.Note)
	if t.Type != Transfer {
		t.ToAccount = ""
	}
	return t
}

func (t Transaction) Validate() error {
	if !t.Type.Valid() {
		return &ValidationError{Field: "type", Reason: "must be expense, income or transfer"}
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if t.Category == "" {
		return &ValidationError{Field: "category", Reason: "required"}
	}
	if t.Account == "" {
		return &ValidationError{Field: "account", Reason: "required"}
	}
	if t.Type == Transfer {
		if t.ToAccount == "" {
			return &ValidationError{Field: "toAccount", Reason: "required for transfers"}
		}
		if t.ToAccount == t.Account {
			return &ValidationError{Field: "toAccount", Reason: "must differ from account"}
		}
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	return nil
}

// AttachmentViewer returns the id allowed to open the attachment, falling
// back to the owner for records written before AttachmentOwnerID existed.
func (t Transaction) AttachmentViewer() string {
	if t.AttachmentOwnerID != "" {
		return t.AttachmentOwnerID
	}
	return t.UserID
}

// TransactionView is what a viewer is allowed to see of a transaction.
type TransactionView struct {
	Transaction
	AttachmentPrivate bool `json:"attachmentPrivate,omitempty"`
}

// ViewFor applies the attachment rule: only the attachment viewer sees the
// link and name, everyone else gets a private marker.
func (t Transaction) ViewFor(viewerID string) TransactionView {
	v := TransactionView{Transaction: t}
	if t.AttachmentURL == "" {
		return v
	}
	if viewerID != t.AttachmentViewer() {
		v.AttachmentURL = ""
		v.AttachmentName = ""
		v.AttachmentPrivate = true
	}
	return v
}

// ViewsFor redacts a snapshot for viewerID.
func ViewsFor(viewerID string, txs []Transaction) []TransactionView {
	out := make([]TransactionView, len(txs))
	for i, t := range txs {
		out[i] = t.ViewFor(viewerID)
	}
	return out
}
