package support

import "github.com/randalmurphal/triage/pkg/flowgraph"

// Gate node ID and its routing keys.
const (
	NodeGate = "validate_topic"

	RouteValid   = "valid"
	RouteInvalid = "invalid"
)

// ValidateTopic decides from the topic alone whether the query can be
// answered from documentation. An absent topic is invalid.
func ValidateTopic(s State) State {
	return State{IsTopicValid: boolPtr(IsAnswerable(s.Topic.Or("")))}
}

// Route picks the branch after the gate. Anything but an explicit true,
// including a missing verdict, routes to ticketing.
func Route(s State) string {
	if s.IsTopicValid != nil && *s.IsTopicValid {
		return RouteValid
	}
	return RouteInvalid
}

func gateNode(_ flowgraph.Context, s State) (State, error) {
	return ValidateTopic(s), nil
}

func routeNode(_ flowgraph.Context, s State) string {
	return Route(s)
}
