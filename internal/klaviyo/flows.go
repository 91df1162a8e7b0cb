package klaviyo

import (
	"context"
	"encoding/json"

	"github.com/andzen/prospect-audit/internal/dates"
)

// FlowsService fetches flow structure: flows, their actions and messages.
type FlowsService struct {
	client *Client
}

// NewFlowsService creates the service over the shared client.
func NewFlowsService(client *Client) *FlowsService {
	return &FlowsService{client: client}
}

// GetFlows lists every flow in the account, following cursor links.
func (s *FlowsService) GetFlows(ctx context.Context) ([]FlowSummary, error) {
	var flows []FlowSummary
	page := func(body []byte) (string, error) {
		var envelope struct {
			Data  []apiObject `json:"data"`
			Links struct {
				Next string `json:"next"`
			} `json:"links"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return "", newError(ErrParseIncomplete, 0, "decoding flows page", err)
		}
		for _, obj := range envelope.Data {
			f, err := decodeFlow(obj)
			if err != nil {
				continue
			}
			flows = append(flows, f)
		}
		return envelope.Links.Next, nil
	}
	if err := s.client.paginate(ctx, "/flows/", nil, page); err != nil {
		return nil, err
	}
	return flows, nil
}

// GetFlow fetches one flow by id.
func (s *FlowsService) GetFlow(ctx context.Context, id string) (FlowSummary, error) {
	var envelope struct {
		Data apiObject `json:"data"`
	}
	if err := s.client.Get(ctx, "/flows/"+id+"/", nil, &envelope); err != nil {
		return FlowSummary{}, err
	}
	return decodeFlow(envelope.Data)
}

// FlowAction is one step of a flow.
type FlowAction struct {
	ID   string
	Type string
}

// GetFlowActions lists the actions of a flow. The email-action count feeds
// the flow summary.
func (s *FlowsService) GetFlowActions(ctx context.Context, flowID string) ([]FlowAction, error) {
	var actions []FlowAction
	page := func(body []byte) (string, error) {
		var envelope struct {
			Data []struct {
				ID         string `json:"id"`
				Attributes struct {
					ActionType string `json:"action_type"`
				} `json:"attributes"`
			} `json:"data"`
			Links struct {
				Next string `json:"next"`
			} `json:"links"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return "", newError(ErrParseIncomplete, 0, "decoding flow actions", err)
		}
		for _, d := range envelope.Data {
			actions = append(actions, FlowAction{ID: d.ID, Type: d.Attributes.ActionType})
		}
		return envelope.Links.Next, nil
	}
	if err := s.client.paginate(ctx, "/flows/"+flowID+"/flow-actions/", nil, page); err != nil {
		return nil, err
	}
	return actions, nil
}

// FlowMessage is one message attached to a flow action.
type FlowMessage struct {
	ID      string
	Name    string
	Channel string
}

// GetFlowMessages lists the messages of a flow action.
func (s *FlowsService) GetFlowMessages(ctx context.Context, actionID string) ([]FlowMessage, error) {
	var messages []FlowMessage
	page := func(body []byte) (string, error) {
		var envelope struct {
			Data []struct {
				ID         string `json:"id"`
				Attributes struct {
					Name    string `json:"name"`
					Channel string `json:"channel"`
				} `json:"attributes"`
			} `json:"data"`
			Links struct {
				Next string `json:"next"`
			} `json:"links"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return "", newError(ErrParseIncomplete, 0, "decoding flow messages", err)
		}
		for _, d := range envelope.Data {
			messages = append(messages, FlowMessage{ID: d.ID, Name: d.Attributes.Name, Channel: d.Attributes.Channel})
		}
		return envelope.Links.Next, nil
	}
	if err := s.client.paginate(ctx, "/flow-actions/"+actionID+"/flow-messages/", nil, page); err != nil {
		return nil, err
	}
	return messages, nil
}

// CountEmailActions returns how many of a flow's actions send email.
func (s *FlowsService) CountEmailActions(ctx context.Context, flowID string) (int, error) {
	actions, err := s.GetFlowActions(ctx, flowID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, a := range actions {
		if a.Type == "SEND_EMAIL" {
			count++
		}
	}
	return count, nil
}

func decodeFlow(obj apiObject) (FlowSummary, error) {
	var attrs struct {
		Name        string `json:"name"`
		Status      string `json:"status"`
		TriggerType string `json:"trigger_type"`
		Created     string `json:"created"`
	}
	if err := json.Unmarshal(obj.Attributes, &attrs); err != nil {
		return FlowSummary{}, err
	}
	f := FlowSummary{
		ID:          obj.ID,
		Name:        attrs.Name,
		Status:      flowStatus(attrs.Status),
		TriggerType: attrs.TriggerType,
	}
	if t, err := dates.ParseISO(attrs.Created); err == nil {
		f.Created = t
	}
	return f, nil
}

func flowStatus(s string) FlowStatus {
	switch s {
	case "live":
		return FlowLive
	case "draft":
		return FlowDraft
	case "archived":
		return FlowArchived
	case "manual":
		return FlowManual
	default:
		return FlowUnknown
	}
}
