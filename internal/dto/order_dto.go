package dto

import "github.com/google/uuid"

type FulfillOrderRequest struct {
	OrderNumber string `json:"order_id"`
	ItemName    string `json:"item_name"`
	OS          string `json:"os"`
	Version     string `json:"version"`
	Quantity    int    `json:"license_count"`
}

type CancelOrderResponse struct {
	OrderNumber string `json:"order_id"`
	Released    int64  `json:"released"`
}

type CreateSoftwareRequest struct {
	Name            string `json:"name"`
	RequiresLicense *bool  `json:"requires_license"`
	SearchByVersion bool   `json:"search_by_version"`
}

type AddVersionRequest struct {
	OS           string `json:"os"`
	Version      string `json:"version"`
	DownloadLink string `json:"download_link"`
}

type ImportLicensesRequest struct {
	VersionID *uuid.UUID `json:"software_version_id"`
	Keys      []string   `json:"license_keys"`
}

type ReleaseLicensesRequest struct {
	LicenseIDs []uuid.UUID `json:"license_ids"`
}
