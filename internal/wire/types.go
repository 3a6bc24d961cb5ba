// Package wire implements the chunkserver's framed packet protocol: the
// u32-type/u32-length/payload frame shared by the master, client and peer
// endpoints, plus the closed status-code set returned in response frames.
package wire

// PacketType identifies the payload carried by a frame. The numeric ranges
// mirror the family prefixes of the original protocol header.
type PacketType uint32

const (
	// ANTOAN_* — general, endpoint-agnostic packets.
	ANTOAN_NOP PacketType = 0

	// MATOCS_* — master to chunkserver.
	MATOCS_CREATE          PacketType = 1100
	MATOCS_DELETE          PacketType = 1102
	MATOCS_SET_VERSION     PacketType = 1104
	MATOCS_DUPLICATE       PacketType = 1106
	MATOCS_TRUNCATE        PacketType = 1108
	MATOCS_DUPTRUNC        PacketType = 1110
	MATOCS_REPLICATE       PacketType = 1112
	MATOCS_CHUNK_CHECKSUM  PacketType = 1114
	MATOCS_CHUNK_CSUM_TAB  PacketType = 1116
	MATOCS_STRUCTURE_LOG   PacketType = 1118
	MATOCS_STRUCTURE_LOG_ROTATE PacketType = 1120

	// CSTOMA_* — chunkserver to master.
	CSTOMA_REGISTER       PacketType = 1200
	CSTOMA_CREATE         PacketType = 1201
	CSTOMA_DELETE         PacketType = 1203
	CSTOMA_SET_VERSION    PacketType = 1205
	CSTOMA_DUPLICATE      PacketType = 1207
	CSTOMA_TRUNCATE       PacketType = 1209
	CSTOMA_DUPTRUNC       PacketType = 1211
	CSTOMA_REPLICATE      PacketType = 1213
	CSTOMA_CHUNK_CHECKSUM PacketType = 1215
	CSTOMA_CHUNK_CSUM_TAB PacketType = 1217
	CSTOMA_SPACE          PacketType = 1220
	CSTOMA_CHUNK_DAMAGED  PacketType = 1222
	CSTOMA_CHUNK_LOST     PacketType = 1224
	CSTOMA_ERROR_OCCURRED PacketType = 1226

	// CUTOCS_* — client to chunkserver.
	CUTOCS_READ       PacketType = 1300
	CUTOCS_WRITE      PacketType = 1302
	CUTOCS_WRITE_DATA PacketType = 1304
	CUTOCS_WRITE_END  PacketType = 1306

	// CSTOCU_* — chunkserver to client.
	CSTOCU_READ_STATUS  PacketType = 1320
	CSTOCU_READ_DATA    PacketType = 1322
	CSTOCU_WRITE_STATUS PacketType = 1324

	// CSTOCS_* — chunkserver to chunkserver (peer).
	CSTOCS_GET_CHUNK_BLOCKS        PacketType = 1400
	CSTOCS_GET_CHUNK_BLOCKS_STATUS PacketType = 1401
	CSTOCS_WRITE              PacketType = 1402
	CSTOCS_WRITE_DATA         PacketType = 1404
	CSTOCS_WRITE_STATUS       PacketType = 1406
	CSTOCS_READ               PacketType = 1408
	CSTOCS_READ_DATA          PacketType = 1410
	CSTOCS_READ_STATUS        PacketType = 1412
	CSTOCS_WRITE_END          PacketType = 1414

	// ANTOCS_* / CSTOAN_* — admin/tooling.
	ANTOCS_CHUNK_INFO  PacketType = 1500
	CSTOAN_CHUNK_INFO  PacketType = 1501
)

// Status is the closed set of result codes carried in response frames.
type Status uint8

const (
	StatusOK Status = iota
	StatusEPerm
	StatusENotDir
	StatusENoEnt
	StatusEAccess
	StatusEExist
	StatusEInval
	StatusEIO
	StatusCRCError
	StatusDelayed
	StatusNoChunk
	StatusWrongVersion
	StatusChunkExist
	StatusNoSpace
	StatusBNumTooBig
	StatusWrongSize
	StatusWrongOffset
	StatusCantConnect
	StatusDisconnected
	StatusWrongChunkID
	StatusNotDone
	StatusOutOfMemory
	StatusLocked
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusEPerm:
		return "EPERM"
	case StatusENotDir:
		return "ENOTDIR"
	case StatusENoEnt:
		return "ENOENT"
	case StatusEAccess:
		return "EACCES"
	case StatusEExist:
		return "EEXIST"
	case StatusEInval:
		return "EINVAL"
	case StatusEIO:
		return "EIO"
	case StatusCRCError:
		return "CRC_ERROR"
	case StatusDelayed:
		return "DELAYED"
	case StatusNoChunk:
		return "NOCHUNK"
	case StatusWrongVersion:
		return "WRONGVERSION"
	case StatusChunkExist:
		return "CHUNKEXIST"
	case StatusNoSpace:
		return "NOSPACE"
	case StatusBNumTooBig:
		return "BNUMTOOBIG"
	case StatusWrongSize:
		return "WRONGSIZE"
	case StatusWrongOffset:
		return "WRONGOFFSET"
	case StatusCantConnect:
		return "CANTCONNECT"
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusWrongChunkID:
		return "WRONGCHUNKID"
	case StatusNotDone:
		return "NOTDONE"
	case StatusOutOfMemory:
		return "OUTOFMEMORY"
	case StatusLocked:
		return "LOCKED"
	default:
		return "UNKNOWN"
	}
}

// MaxPeerFrameLength is the largest accepted frame body on chunkserver peer
// ports (client and inter-chunkserver connections).
const MaxPeerFrameLength = 100000

// MaxMasterFrameLength is the largest accepted frame body on the master
// connection.
const MaxMasterFrameLength = 10000
