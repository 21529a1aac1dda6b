package sender

import (
	"github.com/gokrazy/rsync/internal/filter"
	"github.com/gokrazy/rsync/internal/rsyncwire"
)

// RecvFilterList reads the exclusion/filter rule list the peer sends ahead
// of the file list: a sequence of length-prefixed rule strings terminated
// by a zero-length entry (an empty list, the common case, is just the
// terminator by itself).
func RecvFilterList(c *rsyncwire.Conn) (*filter.Set, error) {
	set := filter.New()
	for {
		n, err := c.ReadInt32()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return set, nil
		}
		data, err := c.ReadN(int(n))
		if err != nil {
			return nil, err
		}
		if err := set.AddRule(string(data)); err != nil {
			return nil, err
		}
	}
}

// SendFilterList writes set's rules in the wire form RecvFilterList
// expects. A nil or empty set is just the terminator.
func SendFilterList(c *rsyncwire.Conn, set *filter.Set) error {
	for set != nil {
		for _, r := range set.Rules {
			src := r.Literal
			if src == "" && r.Pattern != nil {
				src = r.Pattern.String()
			}
			if err := c.WriteInt32(int32(len(src))); err != nil {
				return err
			}
			if err := c.WriteString(src); err != nil {
				return err
			}
		}
		set = set.Parent
	}
	return c.WriteInt32(0)
}
