package catalog

import (
	"fmt"
	"net/http"
)

// Order selects the sort order of search results.
type Order int

// Orders understood by the catalog search endpoint.
const (
	OrderSuggested Order = iota
	OrderCombatRating
	OrderCosmeticRating
	OrderAdded
	OrderCPU
	OrderMostBought
)

// Filters that match every movement and weapon category.
const (
	AllMovements = "100000,200000,300000,400000,500000,600000,700000,800000,900000,1000000,1100000,1200000"
	AllWeapons   = "10000000,20000000,25000000,30000000,40000000,50000000,60000000,65000000,70100000,75000000"
)

// SearchRequest is the body posted to the list endpoint.
type SearchRequest struct {
	Page                 int64  `json:"page"`
	PageSize             int64  `json:"pageSize"`
	Order                Order  `json:"order"`
	PlayerFilter         bool   `json:"playerFilter"`
	MovementFilter       string `json:"movementFilter"`
	MovementCategory     string `json:"movementCategoryFilter"`
	WeaponFilter         string `json:"weaponFilter"`
	WeaponCategory       string `json:"weaponCategoryFilter"`
	MinimumCPU           int64  `json:"minimumCpu"`
	MaximumCPU           int64  `json:"maximumCpu"`
	TextFilter           string `json:"textFilter"`
	TextSearchField      int    `json:"textSearchField"`
	Buyable              bool   `json:"buyable"`
	PrependFeaturedRobot bool   `json:"prependFeaturedRobot"`
	FeaturedOnly         bool   `json:"featuredOnly"`
	DefaultPage          bool   `json:"defaultPage"`
}

// NewestFirst builds the search used by the archiver: every category,
// no CPU bounds, ordered by the date records were added.
func NewestFirst(page, pageSize int64) SearchRequest {
	return SearchRequest{
		Page:             page,
		PageSize:         pageSize,
		Order:            OrderAdded,
		MovementFilter:   AllMovements,
		MovementCategory: AllMovements,
		WeaponFilter:     AllWeapons,
		WeaponCategory:   AllWeapons,
		MinimumCPU:       -1,
		MaximumCPU:       -1,
		Buyable:          true,
		DefaultPage:      false,
	}
}

// ListItem is a record as returned by the search endpoint.
type ListItem struct {
	ItemID             int64   `json:"itemId"`
	ItemName           string  `json:"itemName"`
	ItemDescription    string  `json:"itemDescription"`
	Thumbnail          string  `json:"thumbnail"`
	AddedBy            string  `json:"addedBy"`
	AddedByDisplayName string  `json:"addedByDisplayName"`
	AddedDate          string  `json:"addedDate"`
	ExpiryDate         string  `json:"expiryDate"`
	CPU                int64   `json:"cpu"`
	TotalRobotRanking  int64   `json:"totalRobotRanking"`
	RentCount          int64   `json:"rentCount"`
	BuyCount           int64   `json:"buyCount"`
	Buyable            bool    `json:"buyable"`
	Featured           bool    `json:"featured"`
	CombatRating       float64 `json:"combatRating"`
	CosmeticRating     float64 `json:"cosmeticRating"`
}

// DetailItem is a record as returned by the per-id endpoint.
type DetailItem struct {
	ListItem
	CubeData    string `json:"cubeData"`
	ColourData  string `json:"colourData"`
	CubeAmounts string `json:"cubeAmounts"`
}

// SearchResponse is one page of search results.
type SearchResponse struct {
	StatusCode int
	Items      []ListItem
}

// IsSuccess reports whether the page may be ingested.
func (r SearchResponse) IsSuccess() bool { return isSuccess(r.StatusCode) }

// DetailResponse is the result of a per-id lookup.
type DetailResponse struct {
	StatusCode int
	Item       DetailItem
}

// IsSuccess reports whether Item is populated.
func (r DetailResponse) IsSuccess() bool { return isSuccess(r.StatusCode) }

func isSuccess(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}

// StatusError reports a non-success status from the catalog.
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: catalog returned status %d", e.Op, e.StatusCode)
}

type listEnvelope struct {
	Response struct {
		Items []ListItem `json:"roboShopItems"`
	} `json:"response"`
	StatusCode int `json:"statusCode"`
}

type detailEnvelope struct {
	Response   DetailItem `json:"response"`
	StatusCode int        `json:"statusCode"`
}
