package gateway

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Status is the canonical connection status of an instance.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusQRCode       Status = "qrcode"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Instance is the canonical record of one logical connection to the external
// messaging network, reconciled from whatever payload shape the gateway returns.
type Instance struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Status         Status    `json:"status"`
	Phone          string    `json:"phone,omitempty"`
	ProfileName    string    `json:"profileName,omitempty"`
	ProfilePicture string    `json:"profilePicture,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

// normalizeInstance builds a canonical record from an arbitrary gateway payload.
// Unknown shapes degrade to defaults, they never fail.
func normalizeInstance(data map[string]any) Instance {
	data = unwrapInstance(data)
	inst := Instance{
		ID:             firstString(data, "id", "instanceId", "instance_id"),
		Name:           firstString(data, "name", "instanceName", "instance_name", "instance"),
		Status:         NormalizeStatus(firstString(data, "status", "connectionStatus", "connection_status", "state")),
		Phone:          firstString(data, "phone", "phoneNumber", "phone_number", "number", "ownerJid", "owner_jid"),
		ProfileName:    firstString(data, "profileName", "profile_name", "pushName", "push_name"),
		ProfilePicture: firstString(data, "profilePicture", "profilePicUrl", "profile_pic_url", "profilePictureUrl"),
		CreatedAt:      firstTime(data, "createdAt", "created_at"),
		UpdatedAt:      firstTime(data, "updatedAt", "updated_at"),
	}
	if inst.Phone != "" {
		// Owner JIDs arrive as "<number>@s.whatsapp.net"; keep the bare number.
		if at := strings.Index(inst.Phone, "@"); at > 0 {
			inst.Phone = inst.Phone[:at]
		}
	}
	return inst
}

// unwrapInstance peels common envelope nestings: {data:{instance:{...}}},
// {instance:{...}} or the bare record.
func unwrapInstance(data map[string]any) map[string]any {
	for _, key := range []string{"data", "instance"} {
		if nested, ok := data[key].(map[string]any); ok {
			return unwrapInstance(nested)
		}
	}
	return data
}

// NormalizeStatus folds the gateway's status vocabulary into the canonical set.
// Anything unrecognised degrades to disconnected rather than breaking callers.
func NormalizeStatus(status string) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "connected", "open", "online", "active":
		return StatusConnected
	case "connecting", "pairing", "starting", "loading":
		return StatusConnecting
	case "qrcode", "qr", "qr_code", "awaiting_scan":
		return StatusQRCode
	case "error", "failed", "banned", "refused":
		return StatusError
	default:
		return StatusDisconnected
	}
}

// IsTerminalFailure reports whether the gateway explicitly flagged the
// instance as failed, as opposed to merely not connected yet.
func IsTerminalFailure(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "error", "failed", "banned", "refused":
		return true
	default:
		return false
	}
}

func firstString(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if val, ok := data[key]; ok {
			if str := toString(val); str != "" {
				return str
			}
		}
	}
	return ""
}

func firstTime(data map[string]any, keys ...string) time.Time {
	for _, key := range keys {
		if val, ok := data[key]; ok {
			if str := toString(val); str != "" {
				if ts, err := dateparse.ParseAny(str); err == nil {
					return ts
				}
			}
		}
	}
	return time.Time{}
}

func toString(val any) string {
	switch v := val.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == 0 {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
