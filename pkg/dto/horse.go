package dto

import "github.com/barnhand/corral/internal/models"

// HorseResponse is one roster entry for GET /v1/barns/:barn_id/horses
// (§13, grounded on the teacher's CollectionHandler/PersonHandler list
// endpoints but pointed at the warm registry instead of a persons table).
type HorseResponse struct {
	ID              string  `json:"id"`
	Name            string  `json:"name,omitempty"`
	IsOfficial      bool    `json:"is_official"`
	ColorHex        string  `json:"color_hex"`
	LastUpdatedTime string  `json:"last_updated_time"`
	TotalDetections int     `json:"total_detections"`
	TrackingConfidence float32 `json:"tracking_confidence"`
	Status          string  `json:"status"`
}

type HorseListResponse struct {
	Horses []HorseResponse `json:"horses"`
	Total  int             `json:"total"`
}

func FromRegistryEntry(e models.RegistryEntry) HorseResponse {
	return HorseResponse{
		ID:                 e.ID,
		Name:                e.Name,
		IsOfficial:          e.IsOfficial,
		ColorHex:            e.ColorHex,
		LastUpdatedTime:     e.LastUpdatedTime.Format("2006-01-02T15:04:05Z07:00"),
		TotalDetections:     e.TotalDetections,
		TrackingConfidence:  e.TrackingConfidence,
		Status:              e.Status,
	}
}
