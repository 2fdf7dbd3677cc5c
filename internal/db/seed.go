package db

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeedOptions controls SeedTestData.
type SeedOptions struct {
	Users int
	Reset bool
	Seed  int64
}

var seedStations = []Station{
	{Name: "Val Thorens", Latitude: 45.2979, Longitude: 6.5800},
	{Name: "Chamonix", Latitude: 45.9237, Longitude: 6.8694},
	{Name: "Verbier", Latitude: 46.0961, Longitude: 7.2286},
	{Name: "Zermatt", Latitude: 46.0207, Longitude: 7.7491},
}

var (
	seedLevels    = []string{"beginner", "intermediate", "advanced", "expert"}
	seedStyles    = []string{"alpine", "freeride", "freestyle", "touring", "snowboard"}
	seedLanguages = []string{"en", "fr", "de", "it", "es"}
)

// SeedTestData populates the database with demo stations, riders and likes.
//
// Behavior:
//  1. With Reset, clears every user-owned table, then users and stations.
//  2. Creates 4 stations and opts.Users riders spread across them.
//  3. Each rider likes ~5 others; every 4th like is reciprocated and turned into a match.
//
// Compatible with both MySQL and SQLite.
func SeedTestData(db *gorm.DB, opts SeedOptions) error {
	if opts.Users <= 0 {
		opts.Users = 20
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	r := rand.New(rand.NewSource(opts.Seed))

	if opts.Reset {
		for _, table := range []string{"messages", "matches", "likes", "daily_usage", "consents", "user_station_statuses", "blocks", "users", "stations"} {
			if err := db.Exec("DELETE FROM " + table).Error; err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
	}

	stations := make([]Station, len(seedStations))
	for i, s := range seedStations {
		s.ID = uuid.NewString()
		stations[i] = s
	}
	if err := db.Create(&stations).Error; err != nil {
		return fmt.Errorf("failed to seed stations: %w", err)
	}

	now := time.Now().UTC()
	users := make([]User, 0, opts.Users)
	for i := 1; i <= opts.Users; i++ {
		u := User{
			ID:                  uuid.NewString(),
			Email:               fmt.Sprintf("rider%d@example.com", i),
			Username:            fmt.Sprintf("rider%d", i),
			Bio:                 "Looking for first tracks buddies",
			Level:               seedLevels[r.Intn(len(seedLevels))],
			RideStyles:          pick(r, seedStyles, 2),
			Languages:           pick(r, seedLanguages, 2),
			IsActive:            true,
			IsPremium:           i%5 == 0,
			OnboardingCompleted: true,
			LastActiveAt:        now.Add(-time.Duration(r.Intn(72)) * time.Hour),
		}
		users = append(users, u)
	}
	if err := db.Create(&users).Error; err != nil {
		return fmt.Errorf("failed to seed users: %w", err)
	}

	for i, u := range users {
		st := UserStationStatus{
			UserID:    u.ID,
			StationID: stations[i%len(stations)].ID,
			IsActive:  true,
			DateFrom:  now.AddDate(0, 0, -r.Intn(3)),
			DateTo:    now.AddDate(0, 0, 2+r.Intn(5)),
		}
		if err := db.Create(&st).Error; err != nil {
			return fmt.Errorf("failed to seed station status: %w", err)
		}
	}

	counter := 0
	for i, liker := range users {
		for j := 0; j < 5; j++ {
			liked := users[r.Intn(len(users))]
			if liked.ID == liker.ID {
				continue
			}
			if err := seedLike(db, liker.ID, liked.ID); err != nil {
				return err
			}
			if counter%4 == 0 {
				if err := seedLike(db, liked.ID, liker.ID); err != nil {
					return err
				}
				u1, u2 := OrderedPair(liker.ID, liked.ID)
				m := Match{ID: uuid.NewString(), User1ID: u1, User2ID: u2, IsActive: true}
				if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
					return fmt.Errorf("failed to seed match for user %d: %w", i, err)
				}
			}
			counter++
		}
	}

	return nil
}

func seedLike(db *gorm.DB, likerID, likedID string) error {
	l := Like{ID: uuid.NewString(), LikerID: likerID, LikedID: likedID}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&l).Error; err != nil {
		return fmt.Errorf("failed to seed like: %w", err)
	}
	return nil
}

// OrderedPair returns the two ids so that the first sorts before the second.
func OrderedPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

func pick(r *rand.Rand, from []string, n int) []string {
	idx := r.Perm(len(from))[:n]
	out := make([]string, 0, n)
	for _, i := range idx {
		out = append(out, from[i])
	}
	return out
}
