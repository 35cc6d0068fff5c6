package statroute

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// To most easily serialize and deserialize a topology we describe it completely
// without pointers.  Building one up is easier with pointers, so there are two
// representations of each structure.  The one whose name ends in 'Frame' holds pointers
// and is used during construction, the one whose name ends in 'Desc' is pointer free
// and is what gets written to and read from files.

// A DevExecDesc struct holds a description of how long a switch-programming
// operation takes on a given model of switch. ExecTime is in seconds.
type DevExecDesc struct {
	DevOp    string  `json:"devop" yaml:"devop"`
	Model    string  `json:"model" yaml:"model"`
	ExecTime float64 `json:"exectime" yaml:"exectime"`
}

// A DevExecList holds a map (Times) whose key is the operation
// ("del-flows", "add-flow") and whose value is a list of DevExecDescs
// associated with that operation.
type DevExecList struct {
	// ListName is an identifier for this collection of timings
	ListName string `json:"listname" yaml:"listname"`

	// key is the device operation.  Each has a list
	// of descriptions of the timing of that operation, as a function of device model
	Times map[string][]DevExecDesc `json:"times" yaml:"times"`
}

// CreateDevExecList is an initialization constructor.
// Its output struct has methods for integrating data.
func CreateDevExecList(listname string) *DevExecList {
	del := new(DevExecList)
	del.ListName = listname
	del.Times = make(map[string][]DevExecDesc)

	return del
}

// AddTiming takes the parameters of a DevExecDesc, creates one, and adds it to the DevExecList
func (del *DevExecList) AddTiming(devOp, model string, execTime float64) {
	_, present := del.Times[devOp]
	if !present {
		del.Times[devOp] = make([]DevExecDesc, 0)
	}
	del.Times[devOp] = append(del.Times[devOp], DevExecDesc{Model: model, DevOp: devOp, ExecTime: execTime})
}

// WriteToFile stores the DevExecList struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (del *DevExecList) WriteToFile(filename string) error {
	return writeDescFile(filename, *del)
}

// ReadDevExecList deserializes a byte slice holding a representation of an DevExecList struct.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.
func ReadDevExecList(filename string, useYAML bool, dict []byte) (*DevExecList, error) {
	example := DevExecList{}
	if err := readDescFile(filename, useYAML, dict, &example); err != nil {
		return nil, err
	}

	return &example, nil
}

// counters of the number of instances of each object type created, used
// to create unique default names
var numberOfSwitches int = 0
var numberOfHosts int = 0

// PortDesc binds the name of a switch port to its OpenFlow port number
type PortDesc struct {
	Name   string `json:"name" yaml:"name"`
	Number int    `json:"number" yaml:"number"`
}

// SwitchDesc holds a serializable representation of a switch.
type SwitchDesc struct {
	Name  string `json:"name" yaml:"name"`
	DPID  string `json:"dpid" yaml:"dpid"`
	Model string `json:"model" yaml:"model"`

	// Programmable says whether the switch accepts flow-table commands.
	// Absent means it does.
	Programmable *bool `json:"programmable,omitempty" yaml:"programmable,omitempty"`

	Ports []PortDesc `json:"ports" yaml:"ports"`
}

// CanProgramFlows reports whether flow rules may be pushed to the switch
func (sd *SwitchDesc) CanProgramFlows() bool {
	return sd.Programmable == nil || *sd.Programmable
}

// HostDesc defines serializable representation of a Host.
type HostDesc struct {
	Name string `json:"name" yaml:"name"`
	MAC  string `json:"mac" yaml:"mac"`
	IP   string `json:"ip" yaml:"ip"`
}

// LinkDesc describes a point-to-point link.  Port1 is the name of the port on Node1,
// Port2 the name of the port on Node2. Delay carries a unit suffix, e.g. "2ms".
type LinkDesc struct {
	Node1 string  `json:"node1" yaml:"node1"`
	Port1 string  `json:"port1" yaml:"port1"`
	Node2 string  `json:"node2" yaml:"node2"`
	Port2 string  `json:"port2" yaml:"port2"`
	Delay string  `json:"delay,omitempty" yaml:"delay,omitempty"`
	Bw    float64 `json:"bw,omitempty" yaml:"bw,omitempty"`
}

// The NetDevice interface lets us use common code when switches and hosts
// are involved in model construction.
type NetDevice interface {
	DevName() string        // returns the .Name field of the struct
	DevType() string        // returns the type ("Switch","Host")
	DevPorts() []*PortFrame // list of ports attached to the NetDevice
	DevAddPort() *PortFrame // allocates the next port on the device
}

// PortFrame is the pre-serialization description of a port, used in model construction.
type PortFrame struct {
	Name   string
	Number int
	Device string

	// the port at the other end of the link, nil until connected
	Connects *PortFrame
}

// Transform converts a PortFrame into a PortDesc
func (pf *PortFrame) Transform() PortDesc {
	return PortDesc{Name: pf.Name, Number: pf.Number}
}

// PortName returns the name mininet gives to port number 'number' of device 'device'
func PortName(device string, number int) string {
	return fmt.Sprintf("%s-eth%d", device, number)
}

// SwitchFrame holds a pre-serialization representation of a Switch
type SwitchFrame struct {
	Name         string       // unique string identifier used to reference the switch
	DPID         string       // datapath identifier
	Model        string       // device model identifier, indexes DevExecList timings
	Programmable bool         // false for switches that do their own L2 learning
	Ports        []*PortFrame // port frames, numbered from 1
}

// DefaultSwitchName returns a unique name for a switch
func DefaultSwitchName() string {
	return fmt.Sprintf("s%d", numberOfSwitches)
}

// CreateSwitchFrame constructs a switch frame.  An empty name requests a default one.
func CreateSwitchFrame(name, dpid string) *SwitchFrame {
	sf := new(SwitchFrame)
	numberOfSwitches += 1

	if len(name) == 0 {
		name = DefaultSwitchName()
	}

	sf.Name = name
	sf.DPID = dpid
	sf.Model = "Default"
	sf.Programmable = true
	sf.Ports = make([]*PortFrame, 0)

	return sf
}

// DevName returns name for the NetDevice
func (sf *SwitchFrame) DevName() string {
	return sf.Name
}

// DevType returns the type of the NetDevice
func (sf *SwitchFrame) DevType() string {
	return "Switch"
}

// DevPorts returns list of PortFrames attached to the NetDevice
func (sf *SwitchFrame) DevPorts() []*PortFrame {
	return sf.Ports
}

// DevAddPort creates the next port.  Switch ports are numbered from 1.
func (sf *SwitchFrame) DevAddPort() *PortFrame {
	number := len(sf.Ports) + 1
	pf := &PortFrame{Name: PortName(sf.Name, number), Number: number, Device: sf.Name}
	sf.Ports = append(sf.Ports, pf)

	return pf
}

// Transform returns a serializable SwitchDesc, transformed from a SwitchFrame.
func (sf *SwitchFrame) Transform() SwitchDesc {
	sd := SwitchDesc{Name: sf.Name, DPID: sf.DPID, Model: sf.Model}
	if !sf.Programmable {
		programmable := false
		sd.Programmable = &programmable
	}

	sd.Ports = make([]PortDesc, len(sf.Ports))
	for idx := 0; idx < len(sf.Ports); idx += 1 {
		sd.Ports[idx] = sf.Ports[idx].Transform()
	}

	return sd
}

// HostFrame defines pre-serialization representation of a Host
type HostFrame struct {
	Name  string
	MAC   string
	IP    string
	Ports []*PortFrame // numbered from 0
}

// DefaultHostName returns unique name for a host
func DefaultHostName() string {
	return fmt.Sprintf("h%d", numberOfHosts)
}

// CreateHostFrame is a constructor. It saves (or creates) the host name, and saves
// the link-layer and network addresses
func CreateHostFrame(name, mac, ip string) *HostFrame {
	hf := new(HostFrame)
	numberOfHosts += 1

	if len(name) == 0 {
		name = DefaultHostName()
	}
	hf.Name = name
	hf.MAC = mac
	hf.IP = ip
	hf.Ports = make([]*PortFrame, 0)

	return hf
}

// DevName returns the NetDevice name
func (hf *HostFrame) DevName() string {
	return hf.Name
}

// DevType returns the NetDevice Type
func (hf *HostFrame) DevType() string {
	return "Host"
}

// DevPorts returns the NetDevice list of PortFrames
func (hf *HostFrame) DevPorts() []*PortFrame {
	return hf.Ports
}

// DevAddPort creates the next port.  Host ports are numbered from 0.
func (hf *HostFrame) DevAddPort() *PortFrame {
	number := len(hf.Ports)
	pf := &PortFrame{Name: PortName(hf.Name, number), Number: number, Device: hf.Name}
	hf.Ports = append(hf.Ports, pf)

	return pf
}

// Transform returns a serializable HostDesc
func (hf *HostFrame) Transform() HostDesc {
	return HostDesc{Name: hf.Name, MAC: hf.MAC, IP: hf.IP}
}

// LinkFrame is the pre-serialization representation of a link
type LinkFrame struct {
	Port1 *PortFrame
	Port2 *PortFrame
	Delay string
	Bw    float64
}

// Transform returns a serializable LinkDesc
func (lf *LinkFrame) Transform() LinkDesc {
	return LinkDesc{Node1: lf.Port1.Device, Port1: lf.Port1.Name,
		Node2: lf.Port2.Device, Port2: lf.Port2.Name, Delay: lf.Delay, Bw: lf.Bw}
}

// TopoCfgFrame gathers the frames of a topology under construction
type TopoCfgFrame struct {
	Name     string
	Switches []*SwitchFrame
	Hosts    []*HostFrame
	Links    []*LinkFrame

	// names of devices already known to the frame, to detect duplicates
	devByName map[string]NetDevice
}

// CreateTopoCfgFrame is a constructor
func CreateTopoCfgFrame(name string) *TopoCfgFrame {
	tf := new(TopoCfgFrame)
	tf.Name = name
	tf.Switches = make([]*SwitchFrame, 0)
	tf.Hosts = make([]*HostFrame, 0)
	tf.Links = make([]*LinkFrame, 0)
	tf.devByName = make(map[string]NetDevice)

	return tf
}

// AddSwitch includes a switch frame, returns an error if a device with
// the same name is already present
func (tf *TopoCfgFrame) AddSwitch(swtch *SwitchFrame) error {
	if _, present := tf.devByName[swtch.Name]; present {
		return fmt.Errorf("device %s added multiple times to topology %s", swtch.Name, tf.Name)
	}
	tf.devByName[swtch.Name] = swtch
	tf.Switches = append(tf.Switches, swtch)

	return nil
}

// AddHost includes a host frame, returns an error if a device with
// the same name is already present
func (tf *TopoCfgFrame) AddHost(host *HostFrame) error {
	if _, present := tf.devByName[host.Name]; present {
		return fmt.Errorf("device %s added multiple times to topology %s", host.Name, tf.Name)
	}
	tf.devByName[host.Name] = host
	tf.Hosts = append(tf.Hosts, host)

	return nil
}

// IsConnected indicates whether the two named devices already share a link
func (tf *TopoCfgFrame) IsConnected(name1, name2 string) bool {
	for _, lf := range tf.Links {
		if (lf.Port1.Device == name1 && lf.Port2.Device == name2) ||
			(lf.Port1.Device == name2 && lf.Port2.Device == name1) {
			return true
		}
	}

	return false
}

// ConnectDevs creates a port on each of dev1 and dev2 and a link between them, with
// the given delay (e.g. "1ms") and bandwidth.  Both devices must already be part of the frame.
func (tf *TopoCfgFrame) ConnectDevs(dev1, dev2 NetDevice, delay string, bw float64) error {
	errList := []error{}
	for _, dev := range []NetDevice{dev1, dev2} {
		if _, present := tf.devByName[dev.DevName()]; !present {
			errList = append(errList, fmt.Errorf("device %s not in topology %s", dev.DevName(), tf.Name))
		}
	}
	if err := ReportErrs(errList); err != nil {
		return err
	}

	if dev1.DevName() == dev2.DevName() {
		return fmt.Errorf("attempt to connect device %s to itself", dev1.DevName())
	}

	// one link per pair of devices
	if tf.IsConnected(dev1.DevName(), dev2.DevName()) {
		return fmt.Errorf("devices %s and %s already connected", dev1.DevName(), dev2.DevName())
	}

	port1 := dev1.DevAddPort()
	port2 := dev2.DevAddPort()
	port1.Connects = port2
	port2.Connects = port1

	tf.Links = append(tf.Links, &LinkFrame{Port1: port1, Port2: port2, Delay: delay, Bw: bw})

	return nil
}

// Transform transforms the slices of pointers to network objects
// into slices of instances of those objects, for serialization
func (tf *TopoCfgFrame) Transform() TopoCfg {
	td := TopoCfg{Name: tf.Name}

	td.Switches = make([]SwitchDesc, 0, len(tf.Switches))
	for _, sf := range tf.Switches {
		td.Switches = append(td.Switches, sf.Transform())
	}

	td.Hosts = make([]HostDesc, 0, len(tf.Hosts))
	for _, hf := range tf.Hosts {
		td.Hosts = append(td.Hosts, hf.Transform())
	}

	td.Links = make([]LinkDesc, 0, len(tf.Links))
	for _, lf := range tf.Links {
		td.Links = append(td.Links, lf.Transform())
	}

	return td
}

// Topology is what the routing optimizer needs to know about a network: its switches
// (with their port tables), its hosts (with their addresses), and the links between them.
type Topology interface {
	TopoSwitches() []SwitchDesc
	TopoHosts() []HostDesc
	TopoLinks() []LinkDesc
}

// TopoCfg contains all of the switches, hosts, and links as they are listed in the topology file.
type TopoCfg struct {
	Name     string       `json:"name" yaml:"name"`
	Switches []SwitchDesc `json:"switches" yaml:"switches"`
	Hosts    []HostDesc   `json:"hosts" yaml:"hosts"`
	Links    []LinkDesc   `json:"links" yaml:"links"`
}

// TopoSwitches returns the switch descriptions
func (tc *TopoCfg) TopoSwitches() []SwitchDesc {
	return tc.Switches
}

// TopoHosts returns the host descriptions
func (tc *TopoCfg) TopoHosts() []HostDesc {
	return tc.Hosts
}

// TopoLinks returns the link descriptions
func (tc *TopoCfg) TopoLinks() []LinkDesc {
	return tc.Links
}

// WriteToFile serializes the TopoCfg and writes to the file whose name is given as an input argument.
// Extension of the file name selects whether serialization is to json or to yaml format.
func (tc *TopoCfg) WriteToFile(filename string) error {
	return writeDescFile(filename, *tc)
}

// ReadTopoCfg deserializes a slice of bytes into a TopoCfg.  If the input arg of bytes
// is empty, the file whose name is given as an argument is read.
func ReadTopoCfg(topoFileName string, useYAML bool, dict []byte) (*TopoCfg, error) {
	example := TopoCfg{}
	if err := readDescFile(topoFileName, useYAML, dict, &example); err != nil {
		return nil, err
	}

	return &example, nil
}

// IsYAMLFile reports whether the file name's extension selects yaml serialization
func IsYAMLFile(filename string) bool {
	ext := path.Ext(filename)
	return ext == ".yaml" || ext == ".YAML" || ext == ".yml"
}

// writeDescFile serializes desc to json or yaml depending on the extension of filename
func writeDescFile(filename string, desc any) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	if IsYAMLFile(filename) {
		bytes, merr = yaml.Marshal(desc)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(desc, "", "\t")
	} else {
		return fmt.Errorf("file %s has neither a yaml nor a json extension", filename)
	}

	if merr != nil {
		return merr
	}

	return os.WriteFile(filename, bytes, 0o644)
}

// readDescFile deserializes into desc from dict, or from the named file when dict is empty
func readDescFile(filename string, useYAML bool, dict []byte, desc any) error {
	var err error

	// read from the file only if the byte slice is empty
	if len(dict) == 0 {
		fileInfo, serr := os.Stat(filename)
		if serr != nil || fileInfo.IsDir() {
			return fmt.Errorf("%s does not exist or cannot be read", filename)
		}
		dict, err = os.ReadFile(filename)
		if err != nil {
			return err
		}
	}

	if useYAML {
		err = yaml.Unmarshal(dict, desc)
	} else {
		err = json.Unmarshal(dict, desc)
	}

	return err
}

// ReportErrs transforms a list of errors and transforms the non-nil ones into a single error
// with comma-separated report of all the constituent errors, and returns it.
func ReportErrs(errs []error) error {
	errMsg := make([]string, 0)
	for _, err := range errs {
		if err != nil {
			errMsg = append(errMsg, err.Error())
		}
	}
	if len(errMsg) == 0 {
		return nil
	}

	return errors.New(strings.Join(errMsg, ","))
}

// CheckReadableFiles probes the file system to ensure that every
// one of the argument filenames exists and is readable
func CheckReadableFiles(names []string) (bool, error) {
	return CheckFiles(names, true)
}

// CheckOutputFiles probes the file system to ensure that every
// argument filename can be written.
func CheckOutputFiles(names []string) (bool, error) {
	return CheckFiles(names, false)
}

// CheckFiles probes the file system for permitted access to all the
// argument filenames, optionally checking also for the existence
// of those files for the purposes of reading them.
func CheckFiles(names []string, checkExistence bool) (bool, error) {
	errs := make([]error, 0)

	for _, name := range names {
		// skip empty names
		if len(name) == 0 {
			continue
		}

		// split off the directory portion of the path
		directory, _ := filepath.Split(name)
		if len(directory) == 0 {
			continue
		}
		if _, err := os.Stat(directory); err != nil {
			errs = append(errs, err)
		}
	}

	// if required, check for the existence of each file
	if checkExistence {
		for _, name := range names {
			if len(name) == 0 {
				continue
			}
			if _, err := os.Stat(name); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) == 0 {
		return true, nil
	}

	return false, ReportErrs(errs)
}
