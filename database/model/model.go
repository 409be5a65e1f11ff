// Package model defines the database models persisted by the stats agent.
package model

// TailCursor is the persisted read position in an access log.
type TailCursor struct {
	Id      int    `json:"id" gorm:"primaryKey;autoIncrement"`
	Path    string `json:"path" gorm:"uniqueIndex;not null"`
	Dev     uint64 `json:"dev"`
	Inode   uint64 `json:"inode"`
	Offset  int64  `json:"offset"`
	Size    int64  `json:"size"`
	SavedAt int64  `json:"savedAt"` // unix milliseconds
}

// UserTraffics keeps all-time traffic per user, accumulated from every
// collected interval and never reset by stats queries.
type UserTraffics struct {
	Id         int    `json:"id" form:"id" gorm:"primaryKey;autoIncrement"`
	UserId     int64  `json:"uid" form:"uid" gorm:"uniqueIndex"`
	Up         int64  `json:"up" form:"up" gorm:"default:0"`
	Down       int64  `json:"down" form:"down" gorm:"default:0"`
	Total      int64  `json:"total" form:"total" gorm:"default:0"`
	LastIp     string `json:"lastIp" form:"lastIp"`
	LastOnline int64  `json:"lastOnline" form:"lastOnline" gorm:"default:0"`
}
