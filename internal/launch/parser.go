package launch

import (
	"regexp"
	"strings"

	"github.com/rawblock/launch-sentinel/pkg/models"
)

// LogParser extracts {mint, buyer, creator} candidates from raw program log
// lines. Launchpads disagree on key naming, so extraction runs over a
// per-origin priority list of key names with a first-wins key/value scan.
type LogParser struct {
	validator *MintValidator
}

var (
	// key: base58value pairs, e.g. "mint: 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	kvPattern = regexp.MustCompile(`\b([a-zA-Z][a-zA-Z0-9_]{2,32})\s*[:=]\s*([1-9A-HJ-NP-Za-km-z]{32,44})\b`)
	// any standalone base58 token of pubkey length
	base58Pattern = regexp.MustCompile(`\b[1-9A-HJ-NP-Za-km-z]{32,44}\b`)
)

// Per-origin mint key priority. Origins without an override use the pumpfun
// list, which is the superset observed in the wild.
var mintKeysDefault = []string{
	"mint", "token_mint", "tokenmint", "mint_address", "mintaddress",
	"mintpubkey", "mintkey", "targetmint", "token", "token_address",
	"tokenaddress", "token_pubkey", "tokenpubkey",
}

var mintKeysByOrigin = map[models.Origin][]string{
	models.OriginMoonshot: {
		"mint", "mint_address", "mintaddress", "token_mint", "tokenmint",
		"targetmint", "token",
	},
}

var creatorKeys = []string{
	"creator", "deployer", "owner", "authority", "payer", "creatorauthority",
}

var buyerKeys = []string{
	"buyer", "user", "owner", "trader", "authority", "account_owner",
	"token_owner", "wallet",
}

func NewLogParser(validator *MintValidator) *LogParser {
	return &LogParser{validator: validator}
}

// Parse scans a log batch and returns at most one identifier per category.
func (p *LogParser) Parse(lines []string, origin models.Origin) models.ParseResult {
	joined := strings.Join(lines, "\n")
	lowered := strings.ToLower(joined)

	kind := classifyKind(lowered, origin)

	// First-wins key/value mapping, keys lowercased.
	keyed := make(map[string]string)
	for _, match := range kvPattern.FindAllStringSubmatch(joined, -1) {
		key := strings.ToLower(match[1])
		if _, seen := keyed[key]; !seen {
			keyed[key] = match[2]
		}
	}

	mint := p.pickValid(keyed, mintKeysFor(origin))

	// A create batch with no keyed mint but exactly one plausible pubkey in
	// the text is unambiguous enough to use.
	if mint == "" && kind == models.EventCreate {
		mint = p.soleCandidate(joined)
	}

	if mint == "" {
		return models.ParseResult{Kind: kind, Miss: "no-mint"}
	}

	result := models.ParseResult{Mint: mint, Kind: kind}
	switch kind {
	case models.EventCreate:
		result.Creator = p.pickValid(keyed, creatorKeys)
	case models.EventBuy:
		result.Buyer = p.pickValid(keyed, buyerKeys)
	}
	return result
}

func mintKeysFor(origin models.Origin) []string {
	if keys, ok := mintKeysByOrigin[origin]; ok {
		return keys
	}
	return mintKeysDefault
}

// classifyKind detects the event kind by substring presence in the lowercased
// batch text. Create wins over buy: a create batch frequently carries the dev
// buy in the same transaction.
func classifyKind(lowered string, origin models.Origin) models.EventKind {
	if strings.Contains(lowered, "create") ||
		strings.Contains(lowered, "createtoken") ||
		strings.Contains(lowered, "initializemint") {
		return models.EventCreate
	}
	if strings.Contains(lowered, "buy") {
		return models.EventBuy
	}
	if origin == models.OriginPumpFun &&
		(strings.Contains(lowered, "addliquidity") || strings.Contains(lowered, "add_liquidity")) {
		return models.EventAddLiquidity
	}
	return models.EventUnknown
}

// pickValid returns the first valid candidate found walking the key priority list.
func (p *LogParser) pickValid(keyed map[string]string, keys []string) string {
	for _, key := range keys {
		if val, ok := keyed[key]; ok && p.validator.IsValidMint(val) {
			return val
		}
	}
	return ""
}

// soleCandidate returns the single distinct valid base58 token in the text, or
// "" when zero or more than one are present.
func (p *LogParser) soleCandidate(text string) string {
	seen := make(map[string]bool)
	sole := ""
	for _, tok := range base58Pattern.FindAllString(text, -1) {
		if !p.validator.IsValidMint(tok) {
			continue
		}
		if seen[tok] {
			continue
		}
		seen[tok] = true
		if sole != "" {
			return ""
		}
		sole = tok
	}
	return sole
}
