package scoring

import (
	"strings"

	"github.com/opensource-finance/refundguard/internal/domain"
	"github.com/opensource-finance/refundguard/internal/lexicon"
)

// analyzeText reads the customer's reason, note and messages once and
// records tone, claims and the reason class for every scorer to share.
func analyzeText(in Input) Signals {
	lex := in.Lexicon
	req := in.Request
	texts := in.Features.Texts

	s := Signals{Tone: lexicon.TonePolite}
	if tone, ok := lex.Tone(texts); ok {
		s.Tone = tone.Name
	}
	s.Threatening = s.Tone == lexicon.ToneThreatening
	for _, m := range req.CustomerMessages {
		if m.Sentiment == domain.SentimentThreatening {
			s.Threatening = true
		}
	}

	// Messages can show the customer has the item, but only the reason or
	// note can claim it never arrived.
	for _, c := range lex.Claims(texts) {
		s.Possession = s.Possession || c.Possession
	}
	for _, c := range lex.Claims(claimTexts(req)) {
		s.NonReceipt = s.NonReceipt || c.NonReceipt
	}
	s.Contradiction = s.NonReceipt && s.Possession

	s.Claimed, s.ClaimMatched = classifyReason(lex, req)
	if s.ClaimMatched {
		s.QualityClaim = s.Claimed.Quality
		s.NonReceipt = s.NonReceipt || s.Claimed.NonReceipt
	}

	switch {
	case reasonListed(in.Policy.BlockedReasons, req.RefundReason, s.Claimed.Name):
		s.BlockedReason = true
		s.ReasonClass = lexicon.ClassBlocked
	case s.Contradiction:
		s.ReasonClass = lexicon.ClassContradictory
	case s.ClaimMatched:
		s.ReasonClass = s.Claimed.Name
	default:
		s.ReasonClass = lexicon.ClassUnclassified
	}

	s.DeliveredClaim = s.NonReceipt && req.DeliveryStatus == domain.DeliveryDelivered
	return s
}

// claimTexts returns the non-empty reason and note.
func claimTexts(req *domain.RefundRequest) []string {
	texts := make([]string, 0, 2)
	for _, t := range []string{req.RefundReason, req.CustomerNote} {
		if strings.TrimSpace(t) != "" {
			texts = append(texts, t)
		}
	}
	return texts
}

// classifyReason classifies the refund reason, falling back to the customer
// note when the reason is empty or content-free.
func classifyReason(lex *lexicon.Lexicon, req *domain.RefundRequest) (lexicon.ReasonClass, bool) {
	rc, ok := lex.Classify(req.RefundReason)
	if (!ok || rc.Name == lexicon.ClassNoReason) && strings.TrimSpace(req.CustomerNote) != "" {
		if noteClass, noteOK := lex.Classify(req.CustomerNote); noteOK && noteClass.Name != lexicon.ClassNoReason {
			return noteClass, true
		}
	}
	return rc, ok
}

// reasonListed reports whether the reason text contains any list entry or
// the entry names the reason's class.
func reasonListed(list []string, reason, class string) bool {
	lower := strings.ToLower(reason)
	for _, entry := range list {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if entry == class || strings.Contains(lower, entry) {
			return true
		}
	}
	return false
}
