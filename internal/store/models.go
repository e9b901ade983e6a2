package store

import (
	"fmt"
	"time"

	"wificonf/internal/profile"
)

// record is the on-disk form of one profile. Fields are grouped in the
// sections a network record has always been written in; the enterprise
// section is present only when an EAP method is set.
type record struct {
	ConfigKey  string             `json:"config_key"`
	Config     configSection      `json:"config"`
	Status     statusSection      `json:"status"`
	IP         *profile.IPConfig  `json:"ip"`
	Enterprise *enterpriseSection `json:"enterprise,omitempty"`
}

type configSection struct {
	SSID         string `json:"ssid"`
	Hidden       bool   `json:"hidden,omitempty"`
	FQDN         string `json:"fqdn,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
	Passpoint    bool   `json:"passpoint,omitempty"`

	Variants        []profile.SecurityVariant `json:"variants"`
	DefaultSecurity profile.SecurityType      `json:"default_security"`
	PSK             string                    `json:"psk,omitempty"`
	WEPKeys         [4]string                 `json:"wep_keys"`
	WEPTxKeyIndex   int                       `json:"wep_tx_key_index,omitempty"`

	Shared     bool          `json:"shared"`
	OwnerUID   int           `json:"owner_uid"`
	Creator    profile.Stamp `json:"creator"`
	LastUpdate profile.Stamp `json:"last_update"`

	MacRandomization profile.MacSetting `json:"mac_randomization"`
	RandomizedMAC    profile.MAC        `json:"randomized_mac,omitempty"`
	MacLastModified  time.Time          `json:"mac_last_modified,omitempty"`
	MacExpiration    time.Time          `json:"mac_expiration,omitempty"`

	Linked        []string               `json:"linked,omitempty"`
	ConnectChoice *profile.ConnectChoice `json:"connect_choice,omitempty"`
	GatewayMAC    string                 `json:"gateway_mac,omitempty"`

	HasEverConnected       bool      `json:"has_ever_connected,omitempty"`
	LastConnected          time.Time `json:"last_connected,omitempty"`
	NumAssociation         int       `json:"num_association,omitempty"`
	NumRebootsSinceLastUse int       `json:"num_reboots_since_last_use,omitempty"`
	EverCaptivePortal      bool      `json:"ever_captive_portal,omitempty"`
	AllowAutojoin          bool      `json:"allow_autojoin"`
	DeletionPriority       int       `json:"deletion_priority,omitempty"`
	CarrierID              int       `json:"carrier_id"`
	SubscriptionID         int       `json:"subscription_id,omitempty"`
	CarrierMerged          bool      `json:"carrier_merged,omitempty"`
	MeteredOverride        int       `json:"metered_override,omitempty"`
}

type statusSection struct {
	Kind         profile.StatusKind            `json:"kind"`
	Reason       profile.DisableReason         `json:"reason"`
	DisableCount map[profile.DisableReason]int `json:"disable_count,omitempty"`
	DisableTime  time.Time                     `json:"disable_time,omitempty"`
}

type enterpriseSection struct {
	EAP               profile.EAPMethod `json:"eap"`
	Phase2            string            `json:"phase2,omitempty"`
	Identity          string            `json:"identity,omitempty"`
	AnonymousIdentity string            `json:"anonymous_identity,omitempty"`
	Password          string            `json:"password,omitempty"`
	CACertAlias       string            `json:"ca_cert_alias,omitempty"`
	ClientCertAlias   string            `json:"client_cert_alias,omitempty"`
	Domain            string            `json:"domain,omitempty"`
}

// encodeRecord converts p into its stored form, sealing secrets with s.
func encodeRecord(p *profile.Profile, s *Sealer) (*record, error) {
	key := p.Key()
	c := p.Credentials
	psk, err := s.Seal(c.PSK, key)
	if err != nil {
		return nil, fmt.Errorf("seal psk: %w", err)
	}
	var wep [4]string
	for i, k := range c.WEPKeys {
		if wep[i], err = s.Seal(k, key); err != nil {
			return nil, fmt.Errorf("seal wep key %d: %w", i, err)
		}
	}

	rec := &record{
		ConfigKey: key,
		Config: configSection{
			SSID:                   p.SSID,
			Hidden:                 p.Hidden,
			FQDN:                   p.FQDN,
			ProviderName:           p.ProviderName,
			Passpoint:              p.Passpoint,
			Variants:               append([]profile.SecurityVariant(nil), p.Variants...),
			DefaultSecurity:        p.DefaultSecurity,
			PSK:                    psk,
			WEPKeys:                wep,
			WEPTxKeyIndex:          c.WEPTxKeyIndex,
			Shared:                 p.Shared,
			OwnerUID:               p.OwnerUID,
			Creator:                p.Creator,
			LastUpdate:             p.LastUpdate,
			MacRandomization:       p.MacRandomization,
			RandomizedMAC:          p.RandomizedMAC,
			MacLastModified:        p.MacLastModified,
			MacExpiration:          p.MacExpiration,
			Linked:                 p.LinkedKeys(),
			ConnectChoice:          p.ConnectChoice,
			GatewayMAC:             p.GatewayMAC,
			HasEverConnected:       p.HasEverConnected,
			LastConnected:          p.LastConnected,
			NumAssociation:         p.NumAssociation,
			NumRebootsSinceLastUse: p.NumRebootsSinceLastUse,
			EverCaptivePortal:      p.EverCaptivePortal,
			AllowAutojoin:          p.AllowAutojoin,
			DeletionPriority:       p.DeletionPriority,
			CarrierID:              p.CarrierID,
			SubscriptionID:         p.SubscriptionID,
			CarrierMerged:          p.CarrierMerged,
			MeteredOverride:        p.MeteredOverride,
		},
		Status: statusSection{
			Kind:         p.Status.Kind,
			Reason:       p.Status.Reason,
			DisableCount: p.Status.DisableCount,
			DisableTime:  p.Status.DisableTime,
		},
		IP: p.IP,
	}
	if e := c.Enterprise; e != nil && e.EAP != profile.EAPNone {
		pw, err := s.Seal(e.Password, key)
		if err != nil {
			return nil, fmt.Errorf("seal eap password: %w", err)
		}
		rec.Enterprise = &enterpriseSection{
			EAP:               e.EAP,
			Phase2:            e.Phase2,
			Identity:          e.Identity,
			AnonymousIdentity: e.AnonymousIdentity,
			Password:          pw,
			CACertAlias:       e.CACertAlias,
			ClientCertAlias:   e.ClientCertAlias,
			Domain:            e.Domain,
		}
	}
	return rec, nil
}

// decodeRecord rebuilds a profile. Secrets are opened with the key the
// record was sealed under, which is the stored config key.
func decodeRecord(rec *record, s *Sealer) (*profile.Profile, error) {
	c := rec.Config
	aad := rec.ConfigKey
	psk, err := s.Open(c.PSK, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: psk: %v", ErrDecode, err)
	}
	var wep [4]string
	for i, k := range c.WEPKeys {
		if wep[i], err = s.Open(k, aad); err != nil {
			return nil, fmt.Errorf("%w: wep key %d: %v", ErrDecode, i, err)
		}
	}

	p := &profile.Profile{
		ID:                     profile.InvalidID,
		SSID:                   c.SSID,
		Hidden:                 c.Hidden,
		FQDN:                   c.FQDN,
		ProviderName:           c.ProviderName,
		Passpoint:              c.Passpoint,
		Variants:               c.Variants,
		DefaultSecurity:        c.DefaultSecurity,
		Shared:                 c.Shared,
		OwnerUID:               c.OwnerUID,
		Creator:                c.Creator,
		LastUpdate:             c.LastUpdate,
		Credentials:            profile.Credentials{PSK: psk, WEPKeys: wep, WEPTxKeyIndex: c.WEPTxKeyIndex},
		IP:                     rec.IP,
		MacRandomization:       c.MacRandomization,
		RandomizedMAC:          c.RandomizedMAC,
		MacLastModified:        c.MacLastModified,
		MacExpiration:          c.MacExpiration,
		ConnectChoice:          c.ConnectChoice,
		GatewayMAC:             c.GatewayMAC,
		HasEverConnected:       c.HasEverConnected,
		LastConnected:          c.LastConnected,
		NumAssociation:         c.NumAssociation,
		NumRebootsSinceLastUse: c.NumRebootsSinceLastUse,
		EverCaptivePortal:      c.EverCaptivePortal,
		AllowAutojoin:          c.AllowAutojoin,
		DeletionPriority:       c.DeletionPriority,
		CarrierID:              c.CarrierID,
		SubscriptionID:         c.SubscriptionID,
		CarrierMerged:          c.CarrierMerged,
		MeteredOverride:        c.MeteredOverride,
		Status: profile.SelectionStatus{
			Kind:         rec.Status.Kind,
			Reason:       rec.Status.Reason,
			DisableCount: rec.Status.DisableCount,
			DisableTime:  rec.Status.DisableTime,
		},
	}
	for _, k := range c.Linked {
		if p.Linked == nil {
			p.Linked = make(map[string]bool, len(c.Linked))
		}
		p.Linked[k] = true
	}
	if e := rec.Enterprise; e != nil {
		pw, err := s.Open(e.Password, aad)
		if err != nil {
			return nil, fmt.Errorf("%w: eap password: %v", ErrDecode, err)
		}
		p.Credentials.Enterprise = &profile.Enterprise{
			EAP:               e.EAP,
			Phase2:            e.Phase2,
			Identity:          e.Identity,
			AnonymousIdentity: e.AnonymousIdentity,
			Password:          pw,
			CACertAlias:       e.CACertAlias,
			ClientCertAlias:   e.ClientCertAlias,
			Domain:            e.Domain,
		}
	}
	if len(p.Variants) == 0 {
		return nil, fmt.Errorf("%w: record %q has no security variants", ErrDecode, rec.ConfigKey)
	}
	return p, nil
}

// passpointRecord is a profile handed over to the Passpoint authority.
type passpointRecord struct {
	FQDN         string    `json:"fqdn"`
	ProviderName string    `json:"provider_name,omitempty"`
	Record       *record   `json:"record"`
	MigratedAt   time.Time `json:"migrated_at"`
}

// keystoreEntry holds the enterprise credentials installed for a profile.
type keystoreEntry struct {
	Key        string            `json:"key"`
	Enterprise enterpriseSection `json:"enterprise"`
}
