// Package script hosts Lua consumers for board events.
//
// A VM wraps a sandboxed gopher-lua state. Install exposes a board's channels
// to scripts:
//
//	board.can1_receive(function(can_id, can_data)
//	    print(string.format("0x%x %d bytes", can_id, #can_data))
//	end)
//
//	board.gyroscope_receive({
//	    async = true,
//	    handler = function(x, y, z, gain)
//	        sleep(0.01)
//	        print(x * gain)
//	    end,
//	    defaults = {gain = 2},
//	})
//
// Parameter names decide what a consumer receives; a name the channel does
// not carry must have a default or registration fails. Byte payloads arrive
// as Lua strings.
//
// Async consumers run as coroutines on the dispatch loop. sleep(seconds)
// suspends the coroutine and lets the loop serve other work.
//
// The VM mutex is the exclusion reported for every Lua consumer: a consumer
// runs only while it is held, whether on the device worker or on the loop.
package script
