package archive

import (
	"github.com/JakeFAU/catalog-archiver/internal/catalog"
	"github.com/JakeFAU/catalog-archiver/internal/store"
)

// RecordFromListItem maps a search result to a metadata row.
func RecordFromListItem(item catalog.ListItem) store.Record {
	return store.Record{
		ID:                 item.ItemID,
		Name:               item.ItemName,
		Description:        item.ItemDescription,
		ThumbnailURL:       item.Thumbnail,
		AddedBy:            item.AddedBy,
		AddedByDisplayName: item.AddedByDisplayName,
		AddedDate:          item.AddedDate,
		ExpiryDate:         item.ExpiryDate,
		CPU:                item.CPU,
		TotalRanking:       item.TotalRobotRanking,
		RentCount:          item.RentCount,
		BuyCount:           item.BuyCount,
		Buyable:            item.Buyable,
		Featured:           item.Featured,
		CombatRating:       item.CombatRating,
		CosmeticRating:     item.CosmeticRating,
	}
}

// RecordFromDetailItem maps the metadata half of a detail lookup.
func RecordFromDetailItem(item catalog.DetailItem) store.Record {
	return RecordFromListItem(item.ListItem)
}

// DetailFromDetailItem maps the payload half of a detail lookup.
func DetailFromDetailItem(item catalog.DetailItem) store.Detail {
	return store.Detail{
		ID:          item.ItemID,
		CubeData:    item.CubeData,
		ColourData:  item.ColourData,
		CubeAmounts: item.CubeAmounts,
	}
}

func recordsFromPage(items []catalog.ListItem) []store.Record {
	out := make([]store.Record, 0, len(items))
	for _, item := range items {
		out = append(out, RecordFromListItem(item))
	}
	return out
}
