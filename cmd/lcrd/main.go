// Команда lcrd: SIP-порт маршрутизатора вызовов и утилиты администрирования.
package main

func main() {
	Execute()
}
