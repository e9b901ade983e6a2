package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"wificonf/internal/profile"
	"wificonf/internal/repository"
)

var (
	bucketShared    = []byte("shared")
	bucketUsers     = []byte("users")
	bucketKeystore  = []byte("keystore")
	bucketPasspoint = []byte("passpoint")
)

// BoltStore keeps shared profiles in one bucket and each user's private
// profiles in a nested bucket under "users". It also holds installed
// enterprise credentials and migrated Passpoint profiles.
type BoltStore struct {
	db     *bolt.DB
	sealer *Sealer
	logger *slog.Logger

	mu   sync.Mutex
	user int
}

// NewBoltStore opens or creates a BoltDB database. sealer may be nil.
func NewBoltStore(path string, sealer *Sealer, logger *slog.Logger) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketShared, bucketUsers, bucketKeystore, bucketPasspoint} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BoltStore{db: db, sealer: sealer, logger: logger.With("component", "store")}, nil
}

// User returns the user whose private bucket Read and Write use.
func (s *BoltStore) User() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Read returns the shared profiles and the private profiles of the current
// user. Records that fail to decode are skipped and counted.
func (s *BoltStore) Read() (repository.StoreData, error) {
	user := s.User()
	var data repository.StoreData
	err := s.db.View(func(tx *bolt.Tx) error {
		shared, skipped, err := s.readBucket(tx.Bucket(bucketShared))
		if err != nil {
			return err
		}
		private, skippedPrivate, err := s.readBucket(userBucket(tx, user))
		if err != nil {
			return err
		}
		data = repository.StoreData{
			Shared:     shared,
			Private:    private,
			HasPrivate: true,
			Skipped:    skipped + skippedPrivate,
		}
		return nil
	})
	if err != nil {
		return repository.StoreData{}, fmt.Errorf("read profiles: %w", err)
	}
	return data, nil
}

// Write replaces the shared bucket and, when d carries private profiles,
// the current user's bucket.
func (s *BoltStore) Write(d repository.StoreData) error {
	user := s.User()
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := s.replaceBucket(tx, nil, bucketShared, d.Shared); err != nil {
			return fmt.Errorf("write shared profiles: %w", err)
		}
		if !d.HasPrivate {
			return nil
		}
		users := tx.Bucket(bucketUsers)
		if users == nil {
			return fmt.Errorf("bucket %q not found", bucketUsers)
		}
		if err := s.replaceBucket(tx, users, userKey(user), d.Private); err != nil {
			return fmt.Errorf("write profiles of user %d: %w", user, err)
		}
		return nil
	})
}

// SwitchUser makes user current and returns its private profiles.
func (s *BoltStore) SwitchUser(user int) ([]*profile.Profile, error) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()

	var out []*profile.Profile
	err := s.db.View(func(tx *bolt.Tx) error {
		list, skipped, err := s.readBucket(userBucket(tx, user))
		if err != nil {
			return err
		}
		if skipped > 0 {
			s.logger.Warn("skipped private records", "user", user, "count", skipped)
		}
		out = list
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read profiles of user %d: %w", user, err)
	}
	return out, nil
}

func (s *BoltStore) readBucket(b *bolt.Bucket) ([]*profile.Profile, int, error) {
	if b == nil {
		return nil, 0, nil // no bucket = no profiles
	}
	var (
		out     []*profile.Profile
		skipped int
	)
	err := b.ForEach(func(k, v []byte) error {
		var rec record
		if err := json.Unmarshal(v, &rec); err != nil {
			s.logger.Warn("skipping unreadable record", "key", string(k), "err", err)
			skipped++
			return nil
		}
		p, err := decodeRecord(&rec, s.sealer)
		if err != nil {
			s.logger.Warn("skipping record", "key", string(k), "err", err)
			skipped++
			return nil
		}
		if got := p.Key(); got != rec.ConfigKey {
			s.logger.Warn("stored key does not match profile, using computed key",
				"stored", rec.ConfigKey, "computed", got)
		}
		out = append(out, p)
		return nil
	})
	return out, skipped, err
}

// replaceBucket drops name under parent (or the root when parent is nil)
// and writes list into a fresh bucket. Keys start with the profile key, so
// bbolt's byte order keeps records sorted by SSID.
func (s *BoltStore) replaceBucket(tx *bolt.Tx, parent *bolt.Bucket, name []byte, list []*profile.Profile) error {
	var (
		b   *bolt.Bucket
		err error
	)
	if parent == nil {
		if tx.Bucket(name) != nil {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		b, err = tx.CreateBucket(name)
	} else {
		if parent.Bucket(name) != nil {
			if err := parent.DeleteBucket(name); err != nil {
				return err
			}
		}
		b, err = parent.CreateBucket(name)
	}
	if err != nil {
		return err
	}
	for _, p := range list {
		rec, err := encodeRecord(p, s.sealer)
		if err != nil {
			return fmt.Errorf("encode %s: %w", p.Key(), err)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := b.Put(recordKey(p), data); err != nil {
			return err
		}
	}
	return nil
}

func recordKey(p *profile.Profile) []byte {
	if p.Shared {
		return []byte(p.Key())
	}
	return []byte(p.Key() + "@" + strconv.Itoa(p.UserID()))
}

func userKey(user int) []byte { return []byte(strconv.Itoa(user)) }

func userBucket(tx *bolt.Tx, user int) *bolt.Bucket {
	users := tx.Bucket(bucketUsers)
	if users == nil {
		return nil
	}
	return users.Bucket(userKey(user))
}

// Users returns the ids of users that have a private bucket.
func (s *BoltStore) Users() ([]int, error) {
	var out []int
	err := s.db.View(func(tx *bolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		if users == nil {
			return nil
		}
		return users.ForEach(func(k, _ []byte) error {
			id, err := strconv.Atoi(string(k))
			if err != nil {
				return nil
			}
			out = append(out, id)
			return nil
		})
	})
	return out, err
}

// Install stores the enterprise credentials of p under its key.
func (s *BoltStore) Install(p *profile.Profile) error {
	e := p.Credentials.Enterprise
	if e == nil {
		return fmt.Errorf("profile %s has no enterprise credentials", p.Key())
	}
	key := p.Key()
	pw, err := s.sealer.Seal(e.Password, key)
	if err != nil {
		return fmt.Errorf("seal eap password: %w", err)
	}
	entry := keystoreEntry{Key: key, Enterprise: enterpriseSection{
		EAP:               e.EAP,
		Phase2:            e.Phase2,
		Identity:          e.Identity,
		AnonymousIdentity: e.AnonymousIdentity,
		Password:          pw,
		CACertAlias:       e.CACertAlias,
		ClientCertAlias:   e.ClientCertAlias,
		Domain:            e.Domain,
	}}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKeystore)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketKeystore)
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

// Remove deletes the credentials installed for key. Missing entries are
// not an error.
func (s *BoltStore) Remove(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKeystore)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketKeystore)
		}
		return b.Delete([]byte(key))
	})
}

// Credential returns the enterprise credentials installed for key.
func (s *BoltStore) Credential(key string) (*profile.Enterprise, error) {
	var entry keystoreEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKeystore)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketKeystore)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("credential %s: %w", key, ErrNotFound)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	pw, err := s.sealer.Open(entry.Enterprise.Password, key)
	if err != nil {
		return nil, err
	}
	e := entry.Enterprise
	return &profile.Enterprise{
		EAP:               e.EAP,
		Phase2:            e.Phase2,
		Identity:          e.Identity,
		AnonymousIdentity: e.AnonymousIdentity,
		Password:          pw,
		CACertAlias:       e.CACertAlias,
		ClientCertAlias:   e.ClientCertAlias,
		Domain:            e.Domain,
	}, nil
}

// MigratePasspoint moves p into the Passpoint bucket, keyed by FQDN.
func (s *BoltStore) MigratePasspoint(p *profile.Profile) error {
	if p.FQDN == "" {
		return fmt.Errorf("passpoint profile without fqdn")
	}
	rec, err := encodeRecord(p, s.sealer)
	if err != nil {
		return err
	}
	pr := passpointRecord{FQDN: p.FQDN, ProviderName: p.ProviderName, Record: rec, MigratedAt: time.Now().UTC()}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPasspoint)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketPasspoint)
		}
		data, err := json.Marshal(pr)
		if err != nil {
			return err
		}
		return b.Put([]byte(p.FQDN), data)
	})
}

// PasspointProfiles lists the migrated Passpoint profiles by FQDN.
func (s *BoltStore) PasspointProfiles() ([]*profile.Profile, error) {
	var out []*profile.Profile
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPasspoint)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var pr passpointRecord
			if err := json.Unmarshal(v, &pr); err != nil {
				return fmt.Errorf("passpoint %s: %w", k, err)
			}
			if pr.Record == nil {
				return fmt.Errorf("passpoint %s: %w", k, ErrDecode)
			}
			p, err := decodeRecord(pr.Record, s.sealer)
			if err != nil {
				return err
			}
			out = append(out, p)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
