package service

import (
	"strconv"

	"github.com/konstpic/marznode-stats/database"
	"github.com/konstpic/marznode-stats/database/model"
	"github.com/konstpic/marznode-stats/logger"
	"github.com/konstpic/marznode-stats/store"
	"github.com/konstpic/marznode-stats/xray"

	"gorm.io/gorm"
)

// UserTrafficService keeps the all-time per-user totals in the database.
// The totals are fed by the collector and are never affected by stats
// queries with reset.
type UserTrafficService struct{}

// AddTraffic adds one collection interval to the stored totals. st, when not
// nil, supplies the last known address and time of each user.
func (s *UserTrafficService) AddTraffic(counters []xray.UserCounter, st *store.Store) error {
	if len(counters) == 0 {
		return nil
	}
	db := database.GetDB()
	return db.Transaction(func(tx *gorm.DB) error {
		return s.addUserTraffic(tx, counters, st)
	})
}

func (s *UserTrafficService) addUserTraffic(tx *gorm.DB, counters []xray.UserCounter, st *store.Store) error {
	var err error

	for _, counter := range counters {
		if counter.Uplink <= 0 && counter.Downlink <= 0 {
			continue
		}

		var traffic model.UserTraffics

		err = tx.Model(&model.UserTraffics{}).Where("user_id = ?", counter.UserID).
			FirstOrCreate(&traffic, model.UserTraffics{UserId: counter.UserID}).Error
		if err != nil {
			return err
		}

		traffic.Up = traffic.Up + max(counter.Uplink, 0)
		traffic.Down = traffic.Down + max(counter.Downlink, 0)
		traffic.Total = traffic.Up + traffic.Down

		if st != nil {
			if row, ok := st.Get(formatUID(counter.UserID)); ok && row.RemoteIP != "" {
				traffic.LastIp = row.RemoteIP
				traffic.LastOnline = row.LastSeen.UnixMilli()
			}
		}

		err = tx.Save(&traffic).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// GetUsersTraffic returns the stored totals of every user.
func (s *UserTrafficService) GetUsersTraffic() ([]*model.UserTraffics, error) {
	db := database.GetDB()
	var traffics []*model.UserTraffics

	err := db.Model(model.UserTraffics{}).Order("user_id").Find(&traffics).Error
	if err != nil {
		logger.Warning("Error retrieving UserTraffics: ", err)
		return nil, err
	}

	return traffics, nil
}

// ResetUserTraffic zeroes the stored totals of one user, or of every user
// when uid is negative.
func (s *UserTrafficService) ResetUserTraffic(uid int64) error {
	db := database.GetDB()

	query := db.Model(model.UserTraffics{})
	if uid < 0 {
		query = query.Where("user_id >= ?", 0)
	} else {
		query = query.Where("user_id = ?", uid)
	}

	return query.Updates(map[string]any{"up": 0, "down": 0, "total": 0}).Error
}

func formatUID(uid int64) string {
	return strconv.FormatInt(uid, 10)
}
