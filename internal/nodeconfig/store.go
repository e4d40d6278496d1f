package nodeconfig

import (
	"fmt"
	"strconv"
)

// KVStore is the namespaced key/value contract a node's configuration is
// persisted through, modelled on an embedded NVS namespace. A real
// device firmware backs this with flash-resident NVS; this module backs
// it with FileKV (store_file.go). No third-party embedded key/value
// library appears anywhere in the corpus, so this boundary is
// deliberately kept on the standard library: flash-NVS semantics (atomic
// per-key writes, namespace erase) have no off-the-shelf Go analogue
// worth depending on for a handful of scalar keys.
type KVStore interface {
	// Has reports whether the namespace has ever been written.
	Has(namespace string) (bool, error)
	Get(namespace, key string) (string, bool, error)
	Set(namespace, key, value string) error
	// Clear erases every key in the namespace.
	Clear(namespace string) error
}

// Store wraps a KVStore with typed Load/Save/FactoryReset operations over
// NodeConfig.
type Store struct {
	kv KVStore
}

func NewStore(kv KVStore) *Store {
	return &Store{kv: kv}
}

// Load reads all fields by key. If the namespace has never been written,
// it writes the defaults and returns them.
func (s *Store) Load() (NodeConfig, error) {
	present, err := s.kv.Has(Namespace)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("nodeconfig: checking namespace: %w", err)
	}
	if !present {
		cfg := Defaults()
		if err := s.Save(cfg); err != nil {
			return NodeConfig{}, err
		}
		return cfg, nil
	}

	cfg := Defaults()
	for key, apply := range s.fieldReaders(&cfg) {
		raw, ok, err := s.kv.Get(Namespace, key)
		if err != nil {
			return NodeConfig{}, fmt.Errorf("nodeconfig: reading %s: %w", key, err)
		}
		if !ok {
			continue // individual field loss is tolerated
		}
		if err := apply(raw); err != nil {
			return NodeConfig{}, fmt.Errorf("nodeconfig: parsing %s=%q: %w", key, raw, err)
		}
	}
	return cfg, nil
}

// Save writes all fields. Writes are best-effort per key: a failure on one
// key does not prevent the rest from being attempted, but the first error
// encountered is returned after all writes have been tried.
func (s *Store) Save(cfg NodeConfig) error {
	var firstErr error
	for key, value := range s.fieldWriters(cfg) {
		if err := s.kv.Set(Namespace, key, value); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("nodeconfig: writing %s: %w", key, err)
		}
	}
	return firstErr
}

// FactoryReset clears the namespace and reloads defaults.
func (s *Store) FactoryReset() (NodeConfig, error) {
	if err := s.kv.Clear(Namespace); err != nil {
		return NodeConfig{}, fmt.Errorf("nodeconfig: clearing namespace: %w", err)
	}
	cfg := Defaults()
	if err := s.Save(cfg); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

func (s *Store) fieldWriters(cfg NodeConfig) map[string]string {
	boolStr := func(b bool) string {
		if b {
			return "1"
		}
		return "0"
	}
	return map[string]string{
		KeyNodeID:     strconv.Itoa(int(cfg.NodeID)),
		KeyNetworkID:  strconv.Itoa(int(cfg.NetworkID)),
		KeyTxInterval: strconv.FormatUint(uint64(cfg.TxInterval), 10),
		KeyLocation:   cfg.Location,
		KeyZone:       cfg.Zone,
		KeyTempHi:     strconv.FormatFloat(float64(cfg.TempHi), 'f', -1, 32),
		KeyTempLo:     strconv.FormatFloat(float64(cfg.TempLo), 'f', -1, 32),
		KeyBattLo:     strconv.FormatFloat(float64(cfg.BattLo), 'f', -1, 32),
		KeyBattCrit:   strconv.FormatFloat(float64(cfg.BattCrit), 'f', -1, 32),
		KeyLoRaFreq:   strconv.FormatFloat(float64(cfg.LoRaFreqMHz), 'f', -1, 32),
		KeyLoRaSF:     strconv.Itoa(int(cfg.LoRaSF)),
		KeyLoRaTxPwr:  strconv.Itoa(int(cfg.LoRaTxPower)),
		KeyMeshEn:     boolStr(cfg.MeshEnabled),
		KeyTZOffset:   strconv.Itoa(int(cfg.TZOffsetMin)),
		KeyTimeSync:   strconv.FormatUint(uint64(cfg.LastTimeSync), 10),
	}
}

// fieldReaders returns, per key, a closure that parses the raw stored
// value into the corresponding field of cfg.
func (s *Store) fieldReaders(cfg *NodeConfig) map[string]func(string) error {
	parseU8 := func(dst *uint8) func(string) error {
		return func(raw string) error {
			v, err := strconv.ParseUint(raw, 10, 8)
			if err != nil {
				return err
			}
			*dst = uint8(v)
			return nil
		}
	}
	parseU16 := func(dst *uint16) func(string) error {
		return func(raw string) error {
			v, err := strconv.ParseUint(raw, 10, 16)
			if err != nil {
				return err
			}
			*dst = uint16(v)
			return nil
		}
	}
	parseU32 := func(dst *uint32) func(string) error {
		return func(raw string) error {
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil {
				return err
			}
			*dst = uint32(v)
			return nil
		}
	}
	parseI32 := func(dst *int32) func(string) error {
		return func(raw string) error {
			v, err := strconv.ParseInt(raw, 10, 32)
			if err != nil {
				return err
			}
			*dst = int32(v)
			return nil
		}
	}
	parseF32 := func(dst *float32) func(string) error {
		return func(raw string) error {
			v, err := strconv.ParseFloat(raw, 32)
			if err != nil {
				return err
			}
			*dst = float32(v)
			return nil
		}
	}
	parseStr := func(dst *string) func(string) error {
		return func(raw string) error { *dst = raw; return nil }
	}
	parseBool := func(dst *bool) func(string) error {
		return func(raw string) error { *dst = raw == "1"; return nil }
	}

	return map[string]func(string) error{
		KeyNodeID:     parseU8(&cfg.NodeID),
		KeyNetworkID:  parseU16(&cfg.NetworkID),
		KeyTxInterval: parseU32(&cfg.TxInterval),
		KeyLocation:   parseStr(&cfg.Location),
		KeyZone:       parseStr(&cfg.Zone),
		KeyTempHi:     parseF32(&cfg.TempHi),
		KeyTempLo:     parseF32(&cfg.TempLo),
		KeyBattLo:     parseF32(&cfg.BattLo),
		KeyBattCrit:   parseF32(&cfg.BattCrit),
		KeyLoRaFreq:   parseF32(&cfg.LoRaFreqMHz),
		KeyLoRaSF:     parseU8(&cfg.LoRaSF),
		KeyLoRaTxPwr:  parseU8(&cfg.LoRaTxPower),
		KeyMeshEn:     parseBool(&cfg.MeshEnabled),
		KeyTZOffset:   parseI32(&cfg.TZOffsetMin),
		KeyTimeSync:   parseU32(&cfg.LastTimeSync),
	}
}
