package farcaster

// Identity is a social identity reference.
type Identity struct {
	FID      int64  `json:"fid"`
	Username string `json:"username"`
}

// Cast is a snapshot of one piece of feed content.
type Cast struct {
	Hash         string     `json:"hash"`
	Author       Identity   `json:"author"`
	Text         string     `json:"text"`
	Mentions     []Identity `json:"mentions,omitempty"`
	ParentHash   string     `json:"parent_hash,omitempty"`
	ParentAuthor *Identity  `json:"parent_author,omitempty"`
	Embeds       []string   `json:"embeds,omitempty"`
}

// IsReply reports whether the cast replies to other content.
func (c *Cast) IsReply() bool {
	return c.ParentHash != ""
}

// MentionsIdentity reports whether the username appears in the cast's
// mentioned-identity list.
func (c *Cast) MentionsIdentity(username string) bool {
	for _, m := range c.Mentions {
		if m.Username == username {
			return true
		}
	}
	return false
}

// ValidatedAction is the normalized result of a successful frame signature
// validation.
type ValidatedAction struct {
	Interactor          Identity
	InteractorAddresses []string
	TappedButton        int
	Input               string
	State               string
	CastHash            string
	CastAuthorFID       int64
	TxHash              string
	Client              string
}

// User is a resolved social profile with its verified addresses.
type User struct {
	FID            int64    `json:"fid"`
	Username       string   `json:"username"`
	DisplayName    string   `json:"display_name"`
	CustodyAddress string   `json:"custody_address"`
	Verifications  []string `json:"verifications"`
}
