package ranger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/makr-code/themis-policy/pkg/domain"
)

// ResourceMatcher is one resource dimension of a Ranger policy. Only the
// "path" dimension is interpreted here.
type ResourceMatcher struct {
	Value       string   `json:"value,omitempty"`
	Values      []string `json:"values,omitempty"`
	IsRecursive bool     `json:"isRecursive,omitempty"`
}

// Access is a single permitted or denied access type within a policy item.
type Access struct {
	Type      string `json:"type"`
	IsAllowed bool   `json:"isAllowed"`
}

// PolicyItem grants (or denies) a set of accesses to a set of users.
type PolicyItem struct {
	ItemName string   `json:"itemName,omitempty"`
	Users    []string `json:"users"`
	Accesses []Access `json:"accesses"`
}

// ServicePolicy is one policy object in the authority's schema.
type ServicePolicy struct {
	Name            string                     `json:"name,omitempty"`
	Service         string                     `json:"service,omitempty"`
	Resources       map[string]ResourceMatcher `json:"resources"`
	PolicyItems     []PolicyItem               `json:"policyItems,omitempty"`
	DenyPolicyItems []PolicyItem               `json:"denyPolicyItems,omitempty"`
}

// Document is the authority's policy payload. The API returns either an
// array of service policies or a single policy object; both decode into the
// same slice form.
type Document []ServicePolicy

// UnmarshalJSON accepts an array of policy objects or one bare object.
func (d *Document) UnmarshalJSON(data []byte) error {
	var list []ServicePolicy
	if err := json.Unmarshal(data, &list); err == nil {
		*d = list
		return nil
	}
	var single ServicePolicy
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("authority document is neither a policy array nor a policy object: %w", err)
	}
	*d = Document{single}
	return nil
}

// FromRanger flattens an authority document into internal policies: one
// policy per item, policyItems as allows and denyPolicyItems as denies, all
// items of a service policy sharing its path prefixes.
//
// IDs are assigned by output position ("ranger-1", "ranger-2", ...), so an
// ID is only stable for as long as the upstream document shape is. Deletions
// or reorderings upstream renumber everything; treat these IDs as handles
// into the current snapshot, not durable names.
func FromRanger(doc Document) []domain.Policy {
	out := make([]domain.Policy, 0)
	for _, sp := range doc {
		prefixes := pathPrefixes(sp.Resources)
		out = appendItems(out, sp.PolicyItems, prefixes, domain.EffectAllow)
		out = appendItems(out, sp.DenyPolicyItems, prefixes, domain.EffectDeny)
	}
	return out
}

// pathPrefixes collects the policy's path restriction: the singular value
// first, then the plural list. Policies without one match from the root.
func pathPrefixes(resources map[string]ResourceMatcher) []string {
	var prefixes []string
	if path, ok := resources["path"]; ok {
		if path.Value != "" {
			prefixes = append(prefixes, path.Value)
		}
		prefixes = append(prefixes, path.Values...)
	}
	if len(prefixes) == 0 {
		prefixes = []string{"/"}
	}
	return prefixes
}

func appendItems(out []domain.Policy, items []PolicyItem, prefixes []string, effect domain.Effect) []domain.Policy {
	for _, item := range items {
		name := item.ItemName
		if name == "" {
			name = "ranger-policy-item"
		}
		p := domain.Policy{
			ID:        fmt.Sprintf("ranger-%d", len(out)+1),
			Name:      name,
			Subjects:  append([]string(nil), item.Users...),
			Actions:   make([]string, 0, len(item.Accesses)),
			Resources: append([]string(nil), prefixes...),
			Effect:    effect,
		}
		for _, a := range item.Accesses {
			p.Actions = append(p.Actions, strings.ToLower(a.Type))
		}
		p.Normalize()
		out = append(out, p)
	}
	return out
}

// ToRanger renders internal policies in the authority's schema, one service
// policy per internal policy with a single item carrying all of its subjects
// and actions.
func ToRanger(policies []domain.Policy, serviceName string) Document {
	doc := make(Document, 0, len(policies))
	for _, p := range policies {
		name := p.Name
		if name == "" {
			name = p.ID
		}

		resources := map[string]ResourceMatcher{}
		if len(p.Resources) > 0 {
			resources["path"] = ResourceMatcher{
				Values:      append([]string(nil), p.Resources...),
				IsRecursive: true,
			}
		}

		accesses := make([]Access, 0, len(p.Actions))
		for _, action := range p.Actions {
			accesses = append(accesses, Access{Type: action, IsAllowed: p.Effect.Allows()})
		}
		item := PolicyItem{
			Users:    append([]string{}, p.Subjects...),
			Accesses: accesses,
		}

		sp := ServicePolicy{Name: name, Service: serviceName, Resources: resources}
		if p.Effect.Allows() {
			sp.PolicyItems = []PolicyItem{item}
		} else {
			sp.DenyPolicyItems = []PolicyItem{item}
		}
		doc = append(doc, sp)
	}
	return doc
}
