package topology

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Retention is a stream retention policy.
type Retention string

// Storage is a stream storage backend.
type Storage string

// AckPolicy is a consumer acknowledgement policy.
type AckPolicy string

// Supported enum values.
const (
	RetentionLimits    Retention = "limits"
	RetentionInterest  Retention = "interest"
	RetentionWorkQueue Retention = "workqueue"

	StorageFile   Storage = "file"
	StorageMemory Storage = "memory"

	AckExplicit AckPolicy = "explicit"
	AckAll      AckPolicy = "all"
	AckNone     AckPolicy = "none"
)

// Server defaults used when a desired field is left zero. Filling them in
// keeps a zero desired value from diffing against the server's default.
const (
	defaultAckWait       = 30 * time.Second
	defaultMaxAckPending = 1000
	defaultDuplicates    = 2 * time.Minute
)

// DefaultDuplicates returns the server's default duplicate window for a
// stream retaining messages for maxAge. The window never exceeds a non-zero
// maxAge.
func DefaultDuplicates(maxAge time.Duration) time.Duration {
	if maxAge > 0 && maxAge < defaultDuplicates {
		return maxAge
	}

	return defaultDuplicates
}

// Desired is the complete desired topology.
type Desired struct {
	Streams []StreamSpec `yaml:"streams"`
}

// StreamSpec describes one stream and the durables bound to it.
type StreamSpec struct {
	Name       string         `yaml:"name"`
	Subjects   []string       `yaml:"subjects"`
	Retention  Retention      `yaml:"retention"`
	MaxAge     time.Duration  `yaml:"maxAge"`
	Storage    Storage        `yaml:"storage"`
	Replicas   int            `yaml:"replicas"`
	Duplicates time.Duration  `yaml:"duplicates"`
	Consumers  []ConsumerSpec `yaml:"consumers"`
}

// ConsumerSpec describes one durable consumer.
type ConsumerSpec struct {
	Durable        string        `yaml:"durable"`
	FilterSubject  string        `yaml:"filterSubject"`
	// FilterSubjects restricts the durable to several subjects. Combined
	// with FilterSubject into one set.
	FilterSubjects []string      `yaml:"filterSubjects"`
	AckPolicy      AckPolicy     `yaml:"ackPolicy"`
	MaxDeliver     int           `yaml:"maxDeliver"`
	AckWait        time.Duration `yaml:"ackWait"`
	MaxAckPending  int           `yaml:"maxAckPending"`
}

// LoadDesired reads a desired topology from a YAML file.
func LoadDesired(path string) (Desired, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Desired{}, fmt.Errorf("failed to read topology file: %w", err)
	}

	return ParseDesired(data)
}

// ParseDesired parses and validates a YAML topology document.
func ParseDesired(data []byte) (Desired, error) {
	var d Desired
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Desired{}, fmt.Errorf("failed to parse topology: %w", err)
	}
	if err := d.Validate(); err != nil {
		return Desired{}, err
	}

	return d, nil
}

// Validate checks every stream and consumer definition.
func (d Desired) Validate() error {
	if len(d.Streams) == 0 {
		return errors.New("topology defines no streams")
	}

	seen := make(map[string]struct{}, len(d.Streams))
	for i := range d.Streams {
		s := &d.Streams[i]
		if err := s.Validate(); err != nil {
			return err
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("stream %s defined more than once", s.Name)
		}
		seen[s.Name] = struct{}{}
	}

	return nil
}

// Validate checks a stream definition and its consumers.
func (s *StreamSpec) Validate() error {
	if s.Name == "" {
		return errors.New("stream name is required")
	}
	if len(s.Subjects) == 0 {
		return fmt.Errorf("stream %s: at least one subject is required", s.Name)
	}
	switch s.Retention {
	case "", RetentionLimits, RetentionInterest, RetentionWorkQueue:
	default:
		return fmt.Errorf("stream %s: unknown retention %q", s.Name, s.Retention)
	}
	switch s.Storage {
	case "", StorageFile, StorageMemory:
	default:
		return fmt.Errorf("stream %s: unknown storage %q", s.Name, s.Storage)
	}
	if s.Replicas < 0 || s.Replicas > 5 {
		return fmt.Errorf("stream %s: replicas must be between 1 and 5", s.Name)
	}
	if s.MaxAge < 0 {
		return fmt.Errorf("stream %s: maxAge must not be negative", s.Name)
	}
	if s.Duplicates < 0 {
		return fmt.Errorf("stream %s: duplicates must not be negative", s.Name)
	}
	if s.MaxAge > 0 && s.Duplicates > s.MaxAge {
		return fmt.Errorf("stream %s: duplicates window %s exceeds maxAge %s", s.Name, s.Duplicates, s.MaxAge)
	}

	seen := make(map[string]struct{}, len(s.Consumers))
	for i := range s.Consumers {
		c := &s.Consumers[i]
		if err := c.Validate(); err != nil {
			return fmt.Errorf("stream %s: %w", s.Name, err)
		}
		if _, dup := seen[c.Durable]; dup {
			return fmt.Errorf("stream %s: consumer %s defined more than once", s.Name, c.Durable)
		}
		seen[c.Durable] = struct{}{}
	}

	return nil
}

// Validate checks a consumer definition.
func (c *ConsumerSpec) Validate() error {
	if c.Durable == "" {
		return errors.New("consumer durable name is required")
	}
	switch c.AckPolicy {
	case "", AckExplicit, AckAll, AckNone:
	default:
		return fmt.Errorf("consumer %s: unknown ack policy %q", c.Durable, c.AckPolicy)
	}
	if c.MaxDeliver < -1 {
		return fmt.Errorf("consumer %s: maxDeliver must be -1 (unlimited) or positive", c.Durable)
	}
	if c.AckWait < 0 {
		return fmt.Errorf("consumer %s: ackWait must not be negative", c.Durable)
	}

	return nil
}

// normalized returns a copy with zero fields replaced by server defaults and
// subjects sorted.
func (s StreamSpec) normalized() StreamSpec {
	if s.Retention == "" {
		s.Retention = RetentionLimits
	}
	if s.Storage == "" {
		s.Storage = StorageFile
	}
	if s.Replicas == 0 {
		s.Replicas = 1
	}
	if s.Duplicates == 0 {
		s.Duplicates = DefaultDuplicates(s.MaxAge)
	}
	s.Subjects = slices.Clone(s.Subjects)
	slices.Sort(s.Subjects)
	s.Subjects = slices.Compact(s.Subjects)
	s.Consumers = nil

	return s
}

func (c ConsumerSpec) normalized() ConsumerSpec {
	filters := slices.Clone(c.FilterSubjects)
	if c.FilterSubject != "" {
		filters = append(filters, c.FilterSubject)
	}
	slices.Sort(filters)
	c.FilterSubjects = slices.Compact(filters)
	c.FilterSubject = ""
	if c.AckPolicy == "" {
		c.AckPolicy = AckExplicit
	}
	if c.MaxDeliver == 0 {
		c.MaxDeliver = -1
	}
	if c.AckWait == 0 {
		c.AckWait = defaultAckWait
	}
	if c.MaxAckPending == 0 {
		c.MaxAckPending = defaultMaxAckPending
	}

	return c
}

// diffStream lists field changes from actual to desired. Both sides must be
// normalized.
func diffStream(desired, actual StreamSpec) []string {
	var changes []string
	if !slices.Equal(desired.Subjects, actual.Subjects) {
		changes = append(changes, fmt.Sprintf("subjects: %v -> %v", actual.Subjects, desired.Subjects))
	}
	if desired.Retention != actual.Retention {
		changes = append(changes, fmt.Sprintf("retention: %s -> %s", actual.Retention, desired.Retention))
	}
	if desired.MaxAge != actual.MaxAge {
		changes = append(changes, fmt.Sprintf("maxAge: %s -> %s", actual.MaxAge, desired.MaxAge))
	}
	if desired.Storage != actual.Storage {
		changes = append(changes, fmt.Sprintf("storage: %s -> %s", actual.Storage, desired.Storage))
	}
	if desired.Replicas != actual.Replicas {
		changes = append(changes, fmt.Sprintf("replicas: %d -> %d", actual.Replicas, desired.Replicas))
	}
	if desired.Duplicates != actual.Duplicates {
		changes = append(changes, fmt.Sprintf("duplicates: %s -> %s", actual.Duplicates, desired.Duplicates))
	}

	return changes
}

func diffConsumer(desired, actual ConsumerSpec) []string {
	var changes []string
	if !slices.Equal(desired.FilterSubjects, actual.FilterSubjects) {
		changes = append(changes, fmt.Sprintf("filterSubjects: %v -> %v", actual.FilterSubjects, desired.FilterSubjects))
	}
	if desired.AckPolicy != actual.AckPolicy {
		changes = append(changes, fmt.Sprintf("ackPolicy: %s -> %s", actual.AckPolicy, desired.AckPolicy))
	}
	if desired.MaxDeliver != actual.MaxDeliver {
		changes = append(changes, fmt.Sprintf("maxDeliver: %d -> %d", actual.MaxDeliver, desired.MaxDeliver))
	}
	if desired.AckWait != actual.AckWait {
		changes = append(changes, fmt.Sprintf("ackWait: %s -> %s", actual.AckWait, desired.AckWait))
	}
	if desired.MaxAckPending != actual.MaxAckPending {
		changes = append(changes, fmt.Sprintf("maxAckPending: %d -> %d", actual.MaxAckPending, desired.MaxAckPending))
	}

	return changes
}
