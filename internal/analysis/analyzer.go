// Package analysis implements the heuristic security rule engine.
//
// Analyze is a pure function of an ordered event timeline: no network,
// no clock, no store. Detectors run independently over the same input
// and their results are concatenated; one detector never suppresses
// another. Malformed payloads are treated as absent fields, never as
// errors.
package analysis

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/argussec/argus/internal/domain/event"
	"github.com/argussec/argus/internal/domain/finding"
)

// Rule categories emitted by the baseline detectors.
const (
	RuleInsecureTransport       = "insecure_transport"
	RuleSuspiciousNavigation    = "suspicious_navigation"
	RuleUncertainAction         = "uncertain_action"
	RuleActionLoop              = "action_loop"
	RuleSensitiveData           = "sensitive_data"
	RuleUnknownDomainSubmission = "unknown_domain_submission"
)

// loopWindow is the number of consecutive identical actions that count
// as a stuck loop.
const loopWindow = 5

// evidencePreviewLen bounds quoted reasoning text in findings.
const evidencePreviewLen = 100

// suspiciousHosts are denylisted destination hosts, matched as
// substrings of the URL host.
var suspiciousHosts = []string{
	"malware.com",
	"phishing.site",
	"hack.ru",
	"evil.net",
	"download-free.xyz",
	"login-secure.tk",
}

// uncertainPhrases are hedging or alarm expressions in agent reasoning.
var uncertainPhrases = []string{
	"not sure",
	"uncertain",
	"might be",
	"could be wrong",
	"risky",
	"dangerous",
	"shouldn't",
	"probably shouldn't",
}

// sensitiveKeywords flag values that look like credentials or PII.
var sensitiveKeywords = []string{
	"password",
	"credit card",
	"ssn",
	"social security",
	"api key",
	"secret",
	"token",
	"credentials",
}

// trustedTLDs are suffixes whose hosts are exempt from the
// unknown-domain check.
var trustedTLDs = []string{".gov", ".edu", ".org"}

// knownDomains are common destinations exempt from the unknown-domain
// check, matched as substrings of the host.
var knownDomains = []string{
	"google.com",
	"amazon.com",
	"microsoft.com",
	"github.com",
	"stripe.com",
}

// dataBearingKinds are action kinds that carry user data to the target.
var dataBearingKinds = map[string]bool{
	"click":  true,
	"type":   true,
	"submit": true,
}

// Analyze runs every baseline detector over the timeline, in the order
// the events are given (callers sort by ingestion timestamp). The
// returned findings carry RunID and the triggering EventID where one
// exists; IDs and CreatedAt are left for the store to assign.
func Analyze(events []event.Event) []finding.Finding {
	findings := make([]finding.Finding, 0)

	actions := make([]event.Event, 0, len(events))
	for _, e := range events {
		if e.Type == event.TypeAction {
			actions = append(actions, e)
		}
	}

	findings = append(findings, detectInsecureTransport(actions)...)
	findings = append(findings, detectSuspiciousNavigation(actions)...)
	findings = append(findings, detectUncertainReasoning(events)...)
	findings = append(findings, detectActionLoop(actions)...)
	findings = append(findings, detectSensitiveData(actions)...)
	findings = append(findings, detectUnknownDomainSubmission(actions)...)

	return findings
}

// detectInsecureTransport flags data-bearing actions against plain-HTTP
// URLs.
func detectInsecureTransport(actions []event.Event) []finding.Finding {
	var out []finding.Finding
	for _, e := range actions {
		p := e.Action()
		if !dataBearingKinds[p.Kind] {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(p.URL), "http://") {
			continue
		}
		out = append(out, finding.Finding{
			RunID:       e.RunID,
			Rule:        RuleInsecureTransport,
			Severity:    finding.SeverityHigh,
			Description: fmt.Sprintf("%s action performed over unencrypted HTTP", p.Kind),
			Evidence:    p.URL,
			EventID:     e.ID,
		})
	}
	return out
}

// detectSuspiciousNavigation flags actions whose URL host matches the
// denylist.
func detectSuspiciousNavigation(actions []event.Event) []finding.Finding {
	var out []finding.Finding
	for _, e := range actions {
		p := e.Action()
		host := hostOf(p.URL)
		if host == "" {
			continue
		}
		for _, bad := range suspiciousHosts {
			if strings.Contains(host, bad) {
				out = append(out, finding.Finding{
					RunID:       e.RunID,
					Rule:        RuleSuspiciousNavigation,
					Severity:    finding.SeverityCritical,
					Description: fmt.Sprintf("navigation to denylisted host %s", bad),
					Evidence:    p.URL,
					EventID:     e.ID,
				})
				break
			}
		}
	}
	return out
}

// detectUncertainReasoning flags reasoning text containing hedging or
// alarm phrases. One finding per matching event, first phrase wins.
func detectUncertainReasoning(events []event.Event) []finding.Finding {
	var out []finding.Finding
	for _, e := range events {
		text := e.ReasoningText()
		if text == "" {
			continue
		}
		lower := strings.ToLower(text)
		for _, phrase := range uncertainPhrases {
			if !strings.Contains(lower, phrase) {
				continue
			}
			out = append(out, finding.Finding{
				RunID:       e.RunID,
				Rule:        RuleUncertainAction,
				Severity:    finding.SeverityMedium,
				Description: fmt.Sprintf("agent expressed uncertainty: %q", phrase),
				Evidence:    preview(text),
				EventID:     e.ID,
			})
			break
		}
	}
	return out
}

// detectActionLoop flags the first window of loopWindow consecutive
// actions sharing the same non-empty kind and selector. Only the first
// qualifying window is reported.
func detectActionLoop(actions []event.Event) []finding.Finding {
	for i := 0; i+loopWindow <= len(actions); i++ {
		first := actions[i].Action()
		if first.Kind == "" || first.Selector == "" {
			continue
		}
		same := true
		for j := i + 1; j < i+loopWindow; j++ {
			p := actions[j].Action()
			if p.Kind != first.Kind || p.Selector != first.Selector {
				same = false
				break
			}
		}
		if same {
			// Evidence lists the whole window in order, so the
			// dashboard can highlight every repeated action.
			ids := make([]string, 0, loopWindow)
			for j := i; j < i+loopWindow; j++ {
				ids = append(ids, actions[j].ID)
			}
			return []finding.Finding{{
				RunID:       actions[i].RunID,
				Rule:        RuleActionLoop,
				Severity:    finding.SeverityMedium,
				Description: fmt.Sprintf("agent repeated %s on %q %d times in a row", first.Kind, first.Selector, loopWindow),
				Evidence:    strings.Join(ids, ","),
				EventID:     actions[i].ID,
			}}
		}
	}
	return nil
}

// detectSensitiveData flags action values containing credential-like
// keywords. First matching keyword per action wins.
func detectSensitiveData(actions []event.Event) []finding.Finding {
	var out []finding.Finding
	for _, e := range actions {
		p := e.Action()
		if p.Value == "" {
			continue
		}
		lower := strings.ToLower(p.Value)
		for _, kw := range sensitiveKeywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			out = append(out, finding.Finding{
				RunID:       e.RunID,
				Rule:        RuleSensitiveData,
				Severity:    finding.SeverityHigh,
				Description: fmt.Sprintf("action value contains sensitive term %q", kw),
				Evidence:    kw,
				EventID:     e.ID,
			})
			break
		}
	}
	return out
}

// detectUnknownDomainSubmission flags form submissions to hosts outside
// the trusted-TLD and common-domain allowlists.
func detectUnknownDomainSubmission(actions []event.Event) []finding.Finding {
	var out []finding.Finding
	for _, e := range actions {
		p := e.Action()
		if p.Kind != "submit" && p.Kind != "click" {
			continue
		}
		host := hostOf(p.URL)
		if host == "" || trustedHost(host) {
			continue
		}
		sel := strings.ToLower(p.Selector)
		if p.Kind != "submit" && !strings.Contains(sel, "submit") && !strings.Contains(sel, "form") {
			continue
		}
		out = append(out, finding.Finding{
			RunID:       e.RunID,
			Rule:        RuleUnknownDomainSubmission,
			Severity:    finding.SeverityLow,
			Description: fmt.Sprintf("form submission to unrecognized host %s", host),
			Evidence:    p.URL,
			EventID:     e.ID,
		})
	}
	return out
}

func trustedHost(host string) bool {
	for _, tld := range trustedTLDs {
		if strings.HasSuffix(host, tld) {
			return true
		}
	}
	for _, d := range knownDomains {
		if strings.Contains(host, d) {
			return true
		}
	}
	return false
}

// preview truncates quoted reasoning text to a bounded number of runes,
// never splitting a multi-byte character.
func preview(s string) string {
	if utf8.RuneCountInString(s) <= evidencePreviewLen {
		return s
	}
	return string([]rune(s)[:evidencePreviewLen])
}

// hostOf extracts the lowercased host from a URL, or "" when the URL is
// absent or unparseable.
func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
