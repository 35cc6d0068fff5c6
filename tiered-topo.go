package statroute

import "fmt"

// maxTieredHosts is the largest host count whose decimal MAC octets stay two digits wide
const maxTieredHosts = 9999

// TieredParams sizes a three-tier (core, aggregation, access) switched topology.
// Every aggregation switch connects to every core switch, access switches are
// spread evenly over the aggregation switches, and each access switch carries
// HostsPerAccess hosts.  Delays are link latency attributes, e.g. "1ms".
type TieredParams struct {
	Name           string
	Core           int
	Agg            int
	Access         int
	HostsPerAccess int

	CoreAggDelay   string
	AggAccessDelay string
	HostDelay      string
	CoreCoreDelay  string

	CoreAggBw   float64
	AggAccessBw float64
	HostBw      float64
	CoreCoreBw  float64
}

// MininetTieredParams returns the parameters of the 2-core, 4-aggregation, 8-access,
// 16-host mininet network the optimizer was first built for.
func MininetTieredParams() TieredParams {
	return TieredParams{
		Name:           "mininet-tiered",
		Core:           2,
		Agg:            4,
		Access:         8,
		HostsPerAccess: 2,
		CoreAggDelay:   "1ms",
		AggAccessDelay: "2ms",
		HostDelay:      "1ms",
		CoreCoreDelay:  "0.5ms",
		CoreAggBw:      10,
		AggAccessBw:    5,
		HostBw:         2,
		CoreCoreBw:     20,
	}
}

// BuildTieredTopo constructs the frame of a tiered topology.  Switches are named c<i>, a<i>, s<i>
// and hosts h<i>, all counted from 1.  DPIDs are numbered consecutively over core, aggregation
// then access switches and written as 16 decimal digits.  Host i gets MAC 00:00:00:00:<i/100>:<i%100>
// with each octet written as two decimal digits, so hosts below 100 have the mininet address
// 00:00:00:00:00:<i>.  Host i gets IP 10.0.<i/256>.<i%256>/24.
func BuildTieredTopo(tp TieredParams) (*TopoCfgFrame, error) {
	if tp.Core < 1 || tp.Agg < 1 || tp.Access < 1 || tp.HostsPerAccess < 0 {
		return nil, fmt.Errorf("tiered topology %s needs at least one switch per tier", tp.Name)
	}
	if tp.Access < tp.Agg {
		return nil, fmt.Errorf("tiered topology %s has fewer access (%d) than aggregation (%d) switches",
			tp.Name, tp.Access, tp.Agg)
	}
	nHosts := tp.Access * tp.HostsPerAccess
	if nHosts > maxTieredHosts {
		return nil, fmt.Errorf("tiered topology %s asks for %d hosts, at most %d supported", tp.Name, nHosts, maxTieredHosts)
	}

	tf := CreateTopoCfgFrame(tp.Name)
	errList := []error{}

	dpid := 0
	nextDPID := func() string {
		dpid += 1
		return fmt.Sprintf("%016d", dpid)
	}

	cores := make([]*SwitchFrame, tp.Core)
	for idx := range cores {
		cores[idx] = CreateSwitchFrame(fmt.Sprintf("c%d", idx+1), nextDPID())
		errList = append(errList, tf.AddSwitch(cores[idx]))
	}

	// each aggregation switch connects to every core switch
	aggs := make([]*SwitchFrame, tp.Agg)
	for idx := range aggs {
		aggs[idx] = CreateSwitchFrame(fmt.Sprintf("a%d", idx+1), nextDPID())
		errList = append(errList, tf.AddSwitch(aggs[idx]))
		for _, core := range cores {
			errList = append(errList, tf.ConnectDevs(aggs[idx], core, tp.CoreAggDelay, tp.CoreAggBw))
		}
	}

	perAgg := tp.Access / tp.Agg
	hostIdx := 1
	for idx := 0; idx < tp.Access; idx++ {
		access := CreateSwitchFrame(fmt.Sprintf("s%d", idx+1), nextDPID())
		errList = append(errList, tf.AddSwitch(access))

		aggIdx := idx / perAgg
		if aggIdx >= tp.Agg {
			aggIdx = tp.Agg - 1
		}
		errList = append(errList, tf.ConnectDevs(access, aggs[aggIdx], tp.AggAccessDelay, tp.AggAccessBw))

		for jdx := 0; jdx < tp.HostsPerAccess; jdx++ {
			mac := fmt.Sprintf("00:00:00:00:%02d:%02d", hostIdx/100, hostIdx%100)
			ip := fmt.Sprintf("10.0.%d.%d/24", hostIdx/256, hostIdx%256)
			host := CreateHostFrame(fmt.Sprintf("h%d", hostIdx), mac, ip)
			errList = append(errList, tf.AddHost(host))
			errList = append(errList, tf.ConnectDevs(host, access, tp.HostDelay, tp.HostBw))
			hostIdx += 1
		}
	}

	// the core switches form a backbone
	for idx := 0; idx < len(cores); idx++ {
		for jdx := idx + 1; jdx < len(cores); jdx++ {
			errList = append(errList, tf.ConnectDevs(cores[idx], cores[jdx], tp.CoreCoreDelay, tp.CoreCoreBw))
		}
	}

	if err := ReportErrs(errList); err != nil {
		return nil, err
	}

	return tf, nil
}
